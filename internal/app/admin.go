package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
	"github.com/pscheid92/subathon/internal/rules"
)

// Administrative commands. Each enters the timer through the same per-tenant
// lock as notifications, bypasses the rule engine and fans out afterwards.

func (s *Service) Start(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	s.ensureLoaded(ctx, tenantID)
	snap, err := s.timers.Start(tenantID, seconds)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	return s.command(ctx, "start", snap), nil
}

// Add applies an administrator's raw seconds. No multiplier is applied but
// the cap still holds; a clamp is reported, not raised.
func (s *Service) Add(ctx context.Context, tenantID string, seconds int64) (domain.ApplyResult, error) {
	if seconds < 0 {
		return domain.ApplyResult{}, fmt.Errorf("add %d: %w", seconds, domain.ErrInvalidSeconds)
	}
	s.ensureLoaded(ctx, tenantID)

	result := s.timers.Apply(tenantID, seconds)
	if result.Applied > 0 {
		metrics.TimerSecondsAppliedTotal.WithLabelValues(string(rules.AttrAdmin)).Add(float64(result.Applied))
	}
	if result.Clamped {
		metrics.TimerSecondsClampedTotal.Add(float64(result.ClampedSeconds()))
		slog.InfoContext(ctx, "Admin addition clamped by cap", "requested", result.Requested, "applied", result.Applied)
	}
	result.Snapshot = s.command(ctx, "add", result.Snapshot)
	return result, nil
}

func (s *Service) Subtract(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	s.ensureLoaded(ctx, tenantID)
	snap, err := s.timers.Subtract(tenantID, seconds)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	return s.command(ctx, "subtract", snap), nil
}

func (s *Service) Pause(ctx context.Context, tenantID string) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "pause", s.timers.Pause(tenantID))
}

func (s *Service) Resume(ctx context.Context, tenantID string) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "resume", s.timers.Resume(tenantID))
}

func (s *Service) Clear(ctx context.Context, tenantID string) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "clear", s.timers.Clear(tenantID))
}

func (s *Service) SetCap(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	s.ensureLoaded(ctx, tenantID)
	snap, err := s.timers.SetCap(tenantID, seconds)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	return s.command(ctx, "set_cap", snap), nil
}

func (s *Service) ForceCap(ctx context.Context, tenantID string, forced bool) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "force_cap", s.timers.ForceCap(tenantID, forced))
}

func (s *Service) SetHype(ctx context.Context, tenantID string, active bool) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "set_hype", s.timers.SetHype(tenantID, active))
}

// SetBonusWindow activates the bonus multiplier inside the window.
func (s *Service) SetBonusWindow(ctx context.Context, tenantID string, window domain.BonusWindow) (domain.TimerSnapshot, error) {
	if window.Start != nil && window.End != nil && !window.End.After(*window.Start) {
		return domain.TimerSnapshot{}, fmt.Errorf("%w: end must be after start", domain.ErrInvalidWindow)
	}
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "set_bonus_window", s.timers.SetBonusWindow(tenantID, window)), nil
}

func (s *Service) SetBonus(ctx context.Context, tenantID string, active bool) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.command(ctx, "set_bonus", s.timers.SetBonus(tenantID, active))
}

// State returns the tenant's snapshot without mutating it.
func (s *Service) State(ctx context.Context, tenantID string) domain.TimerSnapshot {
	s.ensureLoaded(ctx, tenantID)
	return s.timers.Snapshot(tenantID)
}

// SetRules validates and persists a tenant's rules, then pushes the style
// part to subscribers. The new rules apply to the next notification.
func (s *Service) SetRules(ctx context.Context, tenantID string, cfg domain.RuleConfig) (domain.TimerSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return domain.TimerSnapshot{}, err
	}
	s.ensureLoaded(ctx, tenantID)

	if err := s.rulesStore.SaveRules(ctx, tenantID, cfg); err != nil {
		return domain.TimerSnapshot{}, fmt.Errorf("save rules: %w", err)
	}
	s.rules.Store(tenantID, cfg)
	metrics.TimerCommandsTotal.WithLabelValues("set_rules").Inc()
	slog.InfoContext(ctx, "Rules updated", "broadcaster_id", tenantID)

	s.publisher.Publish(tenantID, domain.KindStyle, cfg.Style)
	return s.timers.Snapshot(tenantID), nil
}

const maxRelayBytes = 4096

// Relay forwards a sound alert or goal snapshot produced by an external
// subsystem to the tenant's subscribers. The payload is passed through as is.
func (s *Service) Relay(ctx context.Context, tenantID string, kind domain.PublishKind, payload json.RawMessage) error {
	if !kind.Relayed() {
		return fmt.Errorf("%w: kind %q is not relayed", domain.ErrInvalidRelay, kind)
	}
	if len(payload) > maxRelayBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrInvalidRelay, maxRelayBytes)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidRelay)
	}

	metrics.TimerCommandsTotal.WithLabelValues("relay_" + string(kind)).Inc()
	slog.DebugContext(ctx, "Relaying message", "broadcaster_id", tenantID, "kind", kind, "bytes", len(payload))
	s.publisher.Publish(tenantID, kind, payload)
	return nil
}

// JoinMessage is one message a new subscriber receives before live updates.
type JoinMessage struct {
	Kind    domain.PublishKind
	Payload any
}

// JoinMessages returns the current tick and style for a joining subscriber.
func (s *Service) JoinMessages(ctx context.Context, tenantID string) []JoinMessage {
	cfg := s.Rules(ctx, tenantID)
	snap := s.timers.Snapshot(tenantID)
	return []JoinMessage{
		{Kind: domain.KindTick, Payload: snap.Tick()},
		{Kind: domain.KindStyle, Payload: cfg.Style},
	}
}

func (s *Service) command(ctx context.Context, name string, snap domain.TimerSnapshot) domain.TimerSnapshot {
	metrics.TimerCommandsTotal.WithLabelValues(name).Inc()
	slog.InfoContext(ctx, "Timer command", "command", name, "broadcaster_id", snap.TenantID,
		"remaining", snap.RemainingSeconds(), "paused", snap.Paused)
	s.commit(snap)
	return snap
}
