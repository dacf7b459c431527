package domain

import (
	"encoding/json"
	"time"
)

// EventKind is the upstream notification type, named after its EventSub subscription type.
type EventKind string

const (
	EventCheer        EventKind = "channel.cheer"
	EventBitsUse      EventKind = "channel.bits.use"
	EventSubscribe    EventKind = "channel.subscribe"
	EventResub        EventKind = "channel.subscription.message"
	EventGift         EventKind = "channel.subscription.gift"
	EventFollow       EventKind = "channel.follow"
	EventCharity      EventKind = "channel.charity_campaign.donate"
	EventHypeBegin    EventKind = "channel.hype_train.begin"
	EventHypeProgress EventKind = "channel.hype_train.progress"
	EventHypeEnd      EventKind = "channel.hype_train.end"
)

// SubscriptionVersion returns the EventSub version requested for a kind.
func (k EventKind) SubscriptionVersion() string {
	if k == EventFollow {
		return "2"
	}
	return "1"
}

func (k EventKind) IsHypeTrain() bool {
	return k == EventHypeBegin || k == EventHypeProgress || k == EventHypeEnd
}

// SubscriptionKinds lists every notification type a tenant connection subscribes to.
// Which of them actually change the timer is decided by the tenant's RuleConfig.
var SubscriptionKinds = []EventKind{
	EventCheer,
	EventBitsUse,
	EventSubscribe,
	EventResub,
	EventGift,
	EventFollow,
	EventCharity,
	EventHypeBegin,
	EventHypeProgress,
	EventHypeEnd,
}

type MonetaryAmount struct {
	Value         int64  `json:"value"`
	DecimalPlaces int    `json:"decimal_places"`
	Currency      string `json:"currency"`
}

// Event is the typed, transport-independent form of a notification payload.
type Event struct {
	Kind      EventKind      `json:"kind"`
	UserID    string         `json:"user_id,omitempty"`
	UserName  string         `json:"user_name,omitempty"`
	Anonymous bool           `json:"anonymous,omitempty"`
	Bits      int            `json:"bits,omitempty"`
	Tier      string         `json:"tier,omitempty"`
	IsGift    bool           `json:"is_gift,omitempty"`
	GiftTotal int            `json:"gift_total,omitempty"`
	Amount    MonetaryAmount `json:"amount"`
}

// Envelope wraps one upstream notification. SourceID is the dedup key.
type Envelope struct {
	SourceID   string
	TenantID   string
	Kind       EventKind
	Payload    json.RawMessage
	Event      Event
	SentAt     time.Time
	ReceivedAt time.Time
}
