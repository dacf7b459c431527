package domain

import (
	"context"
	"time"
)

// PublishKind names the event kinds pushed to subscribers.
type PublishKind string

const (
	KindTick   PublishKind = "tick"
	KindStyle  PublishKind = "style"
	KindStatus PublishKind = "status"
	KindEvent  PublishKind = "event"
	// Sound alerts and goal snapshots are produced outside this service and
	// relayed to subscribers unchanged.
	KindSound  PublishKind = "sound"
	KindGoal   PublishKind = "goal"
)

func (k PublishKind) Valid() bool {
	switch k {
	case KindTick, KindStyle, KindStatus, KindEvent, KindSound, KindGoal:
		return true
	}
	return false
}

// Relayed reports whether kind carries payloads from external producers.
func (k PublishKind) Relayed() bool {
	return k == KindSound || k == KindGoal
}

// SnapshotStore persists one overwrite-in-place record per tenant.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot TimerSnapshot) error
	LoadSnapshot(ctx context.Context, tenantID string) (*TimerSnapshot, error)
}

// RulesStore persists tenant rule configs.
type RulesStore interface {
	SaveRules(ctx context.Context, tenantID string, rules RuleConfig) error
	LoadRules(ctx context.Context, tenantID string) (*RuleConfig, error)
}

// IdempotencyGuard rejects redelivered notifications. Claim is the atomic
// check-then-remember: it returns true exactly once per (tenant, source id)
// within the guard's horizon.
type IdempotencyGuard interface {
	Seen(ctx context.Context, tenantID, sourceID string) (bool, error)
	Remember(ctx context.Context, tenantID, sourceID string) error
	Claim(ctx context.Context, tenantID, sourceID string) (bool, error)
}

// Publisher fans events out to a tenant's subscribers.
type Publisher interface {
	Publish(tenantKey string, kind PublishKind, payload any)
	PublishState(tenantKey string, snapshot TimerSnapshot)
}

// BridgeMessage is the compact summary pushed to the viewer-panel channel.
type BridgeMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Bridge is the secondary, low-fanout outbound channel.
type Bridge interface {
	Push(ctx context.Context, tenantID string, msg BridgeMessage) error
}

// SubscriptionStatus is surfaced by the ingestion layer when a subscription
// request fails or a subscription is revoked upstream.
type SubscriptionStatus struct {
	TenantID string    `json:"tenant_id"`
	Type     EventKind `json:"type"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

const (
	SubscriptionActive  = "active"
	SubscriptionFailed  = "failed"
	SubscriptionRevoked = "revoked"
)
