package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
	"github.com/pscheid92/subathon/internal/rules"
	"github.com/pscheid92/subathon/internal/timer"
	"golang.org/x/sync/singleflight"
)

// staleAfter drops replayed notifications older than Twitch's redelivery horizon.
const staleAfter = 10 * time.Minute

const loadTimeout = 5 * time.Second

// Notification outcomes recorded on ingest_notifications_total.
const (
	outcomeApplied   = "applied"
	outcomeClamped   = "clamped"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeStale     = "stale"
	outcomeHype      = "hype"
)

// Service orchestrates the timer use cases. It is the only component that
// references timers, storage and fan-out together.
type Service struct {
	timers      *timer.Registry
	guard       domain.IdempotencyGuard
	snapshots   domain.SnapshotStore
	rulesStore  domain.RulesStore
	publisher   domain.Publisher
	snapshotter *Snapshotter
	clock       clockwork.Clock

	loadGroup singleflight.Group
	loaded    sync.Map // tenant id -> struct{}
	rules     sync.Map // tenant id -> domain.RuleConfig
}

func NewService(
	timers *timer.Registry,
	guard domain.IdempotencyGuard,
	snapshots domain.SnapshotStore,
	rulesStore domain.RulesStore,
	publisher domain.Publisher,
	snapshotter *Snapshotter,
	clock clockwork.Clock,
) *Service {
	return &Service{
		timers:      timers,
		guard:       guard,
		snapshots:   snapshots,
		rulesStore:  rulesStore,
		publisher:   publisher,
		snapshotter: snapshotter,
		clock:       clock,
	}
}

// ensureLoaded restores a tenant's snapshot and rules on first reference.
// Concurrent first references collapse into one load. A failed load is
// retried on the next reference; until then the tenant runs on defaults.
func (s *Service) ensureLoaded(ctx context.Context, tenantID string) {
	if _, ok := s.loaded.Load(tenantID); ok {
		return
	}

	_, _, _ = s.loadGroup.Do(tenantID, func() (any, error) {
		if _, ok := s.loaded.Load(tenantID); ok {
			return nil, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		failed := false
		if snap, err := s.snapshots.LoadSnapshot(loadCtx, tenantID); err == nil {
			if s.timers.Restore(*snap) {
				slog.InfoContext(ctx, "Restored timer snapshot", "broadcaster_id", tenantID, "remaining", snap.RemainingSeconds())
			}
		} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
			failed = true
			slog.WarnContext(ctx, "Failed to load timer snapshot", "broadcaster_id", tenantID, "error", err)
		}

		if cfg, err := s.rulesStore.LoadRules(loadCtx, tenantID); err == nil {
			s.rules.Store(tenantID, *cfg)
		} else if !errors.Is(err, domain.ErrRulesNotFound) {
			failed = true
			slog.WarnContext(ctx, "Failed to load rules", "broadcaster_id", tenantID, "error", err)
		}

		if !failed {
			s.loaded.Store(tenantID, struct{}{})
		}
		return nil, nil
	})
}

// Rules returns the tenant's rule config, or the defaults if none was saved.
func (s *Service) Rules(ctx context.Context, tenantID string) domain.RuleConfig {
	s.ensureLoaded(ctx, tenantID)
	if cfg, ok := s.rules.Load(tenantID); ok {
		return cfg.(domain.RuleConfig)
	}
	return domain.DefaultRuleConfig()
}

// HandleNotification runs one envelope through dedup, rule evaluation and
// the timer, then fans the result out. It never fails: every outcome is a
// metric and a log line.
func (s *Service) HandleNotification(ctx context.Context, env domain.Envelope) {
	tenantID := env.TenantID
	kind := string(env.Kind)

	if !env.SentAt.IsZero() && s.clock.Since(env.SentAt) > staleAfter {
		metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeStale).Inc()
		slog.WarnContext(ctx, "Dropping stale notification", "message_id", env.SourceID, "sent_at", env.SentAt)
		return
	}

	fresh, err := s.guard.Claim(ctx, tenantID, env.SourceID)
	if err != nil {
		// availability first: an unavailable guard must not stop the timer
		slog.WarnContext(ctx, "Idempotency guard unavailable, accepting notification", "message_id", env.SourceID, "error", err)
		fresh = true
	}
	if !fresh {
		metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeDuplicate).Inc()
		slog.DebugContext(ctx, "Duplicate notification", "message_id", env.SourceID)
		return
	}

	cfg := s.Rules(ctx, tenantID)

	if env.Kind.IsHypeTrain() {
		s.handleHypeTrain(ctx, cfg, env)
		return
	}

	var outcome rules.Outcome
	var matched bool
	result := s.timers.ApplyWith(tenantID, func(mods domain.Modifiers) int64 {
		outcome, matched = rules.Evaluate(cfg, env.Event, mods)
		return outcome.DeltaSeconds
	})
	if !matched {
		metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeIgnored).Inc()
		slog.DebugContext(ctx, "Notification has no effect under current rules", "type", kind)
		return
	}

	outcomeLabel := outcomeApplied
	if result.Clamped {
		outcomeLabel = outcomeClamped
		metrics.TimerSecondsClampedTotal.Add(float64(result.ClampedSeconds()))
	}
	metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeLabel).Inc()
	metrics.TimerSecondsAppliedTotal.WithLabelValues(string(outcome.Attribution)).Add(float64(result.Applied))

	slog.InfoContext(ctx, "Applied notification",
		"type", kind,
		"attribution", outcome.Attribution,
		"raw_seconds", outcome.RawSeconds,
		"multiplier", outcome.Multiplier,
		"applied_seconds", result.Applied,
		"clamped", result.Clamped,
		"remaining", result.Snapshot.RemainingSeconds(),
	)

	if result.Applied > 0 {
		s.commit(result.Snapshot)
	}
	s.publisher.Publish(tenantID, domain.KindEvent, EventNotice{
		Type:        env.Kind,
		UserName:    displayName(env.Event),
		Attribution: outcome.Attribution,
		Seconds:     result.Applied,
		Clamped:     result.ClampedSeconds(),
	})
}

func (s *Service) handleHypeTrain(ctx context.Context, cfg domain.RuleConfig, env domain.Envelope) {
	kind := string(env.Kind)
	if !cfg.Hype.Auto {
		metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeIgnored).Inc()
		return
	}

	active := env.Kind != domain.EventHypeEnd
	if s.timers.Snapshot(env.TenantID).HypeActive == active {
		metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeIgnored).Inc()
		return
	}

	snap := s.timers.SetHype(env.TenantID, active)
	metrics.IngestNotificationsTotal.WithLabelValues(kind, outcomeHype).Inc()
	slog.InfoContext(ctx, "Hype train toggled hype", "type", kind, "hype", active)
	s.commit(snap)
}

// OnSubscriptionStatus forwards ingestion status to the tenant's subscribers.
func (s *Service) OnSubscriptionStatus(ctx context.Context, status domain.SubscriptionStatus) {
	slog.InfoContext(ctx, "Subscription status", "broadcaster_id", status.TenantID, "type", status.Type, "state", status.State, "reason", status.Reason)
	s.publisher.Publish(status.TenantID, domain.KindStatus, status)
}

// commit publishes a post-mutation snapshot and queues it for persistence.
// Callers must not hold any tenant lock.
func (s *Service) commit(snap domain.TimerSnapshot) {
	s.publisher.PublishState(snap.TenantID, snap)
	s.snapshotter.Save(snap)
}

// EventNotice is the "event" payload describing an applied notification.
type EventNotice struct {
	Type        domain.EventKind  `json:"type"`
	UserName    string            `json:"user_name,omitempty"`
	Attribution rules.Attribution `json:"attribution"`
	Seconds     int64             `json:"seconds"`
	Clamped     int64             `json:"clamped,omitempty"`
}

func displayName(e domain.Event) string {
	if e.Anonymous {
		return "Anonymous"
	}
	return e.UserName
}
