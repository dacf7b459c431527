package twitch

import (
	"encoding/json"
	"time"
)

// EventSub websocket message types.
const (
	msgWelcome      = "session_welcome"
	msgKeepalive    = "session_keepalive"
	msgReconnect    = "session_reconnect"
	msgNotification = "notification"
	msgRevocation   = "revocation"
)

type frame struct {
	Metadata frameMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type frameMetadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type subscriptionInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

type notificationPayload struct {
	Subscription subscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
}

type revocationPayload struct {
	Subscription subscriptionInfo `json:"subscription"`
}
