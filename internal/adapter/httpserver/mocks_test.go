package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pscheid92/subathon/internal/app"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/platform/config"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-admin-key-0123456789"

type mockTimerService struct {
	startFn          func(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error)
	addFn            func(ctx context.Context, tenantID string, seconds int64) (domain.ApplyResult, error)
	setBonusWindowFn func(ctx context.Context, tenantID string, window domain.BonusWindow) (domain.TimerSnapshot, error)
	setRulesFn       func(ctx context.Context, tenantID string, cfg domain.RuleConfig) (domain.TimerSnapshot, error)
	joinFn           func(ctx context.Context, tenantID string) []app.JoinMessage
	relayFn          func(ctx context.Context, tenantID string, kind domain.PublishKind, payload json.RawMessage) error

	calls []string
}

func snapshotWith(tenantID string, remaining time.Duration) domain.TimerSnapshot {
	return domain.TimerSnapshot{TenantID: tenantID, Remaining: remaining, Paused: true, RemainingAtPause: remaining}
}

func (m *mockTimerService) record(name string) { m.calls = append(m.calls, name) }

func (m *mockTimerService) Start(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	m.record("start")
	if m.startFn != nil {
		return m.startFn(ctx, tenantID, seconds)
	}
	return snapshotWith(tenantID, time.Duration(seconds)*time.Second), nil
}

func (m *mockTimerService) Add(ctx context.Context, tenantID string, seconds int64) (domain.ApplyResult, error) {
	m.record("add")
	if m.addFn != nil {
		return m.addFn(ctx, tenantID, seconds)
	}
	return domain.ApplyResult{Requested: seconds, Applied: seconds, Snapshot: snapshotWith(tenantID, time.Duration(seconds)*time.Second)}, nil
}

func (m *mockTimerService) Subtract(_ context.Context, tenantID string, _ int64) (domain.TimerSnapshot, error) {
	m.record("subtract")
	return snapshotWith(tenantID, 0), nil
}

func (m *mockTimerService) Pause(_ context.Context, tenantID string) domain.TimerSnapshot {
	m.record("pause")
	return snapshotWith(tenantID, 0)
}

func (m *mockTimerService) Resume(_ context.Context, tenantID string) domain.TimerSnapshot {
	m.record("resume")
	return snapshotWith(tenantID, 0)
}

func (m *mockTimerService) Clear(_ context.Context, tenantID string) domain.TimerSnapshot {
	m.record("clear")
	return snapshotWith(tenantID, 0)
}

func (m *mockTimerService) SetCap(_ context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	m.record("set_cap")
	snap := snapshotWith(tenantID, 0)
	snap.MaxTotalSeconds = seconds
	return snap, nil
}

func (m *mockTimerService) ForceCap(_ context.Context, tenantID string, forced bool) domain.TimerSnapshot {
	m.record("force_cap")
	snap := snapshotWith(tenantID, 0)
	snap.CapForced = forced
	return snap
}

func (m *mockTimerService) SetHype(_ context.Context, tenantID string, active bool) domain.TimerSnapshot {
	m.record("set_hype")
	snap := snapshotWith(tenantID, 0)
	snap.HypeActive = active
	return snap
}

func (m *mockTimerService) SetBonusWindow(ctx context.Context, tenantID string, window domain.BonusWindow) (domain.TimerSnapshot, error) {
	m.record("set_bonus_window")
	if m.setBonusWindowFn != nil {
		return m.setBonusWindowFn(ctx, tenantID, window)
	}
	snap := snapshotWith(tenantID, 0)
	snap.BonusWindow = window
	return snap, nil
}

func (m *mockTimerService) SetBonus(_ context.Context, tenantID string, active bool) domain.TimerSnapshot {
	m.record("set_bonus")
	snap := snapshotWith(tenantID, 0)
	snap.BonusActive = active
	return snap
}

func (m *mockTimerService) State(_ context.Context, tenantID string) domain.TimerSnapshot {
	m.record("state")
	return snapshotWith(tenantID, 90*time.Second)
}

func (m *mockTimerService) SetRules(ctx context.Context, tenantID string, cfg domain.RuleConfig) (domain.TimerSnapshot, error) {
	m.record("set_rules")
	if m.setRulesFn != nil {
		return m.setRulesFn(ctx, tenantID, cfg)
	}
	return snapshotWith(tenantID, 0), nil
}

func (m *mockTimerService) Rules(context.Context, string) domain.RuleConfig {
	m.record("rules")
	return domain.DefaultRuleConfig()
}

func (m *mockTimerService) JoinMessages(ctx context.Context, tenantID string) []app.JoinMessage {
	if m.joinFn != nil {
		return m.joinFn(ctx, tenantID)
	}
	return []app.JoinMessage{
		{Kind: domain.KindTick, Payload: domain.Tick{Remaining: 42}},
		{Kind: domain.KindStyle, Payload: domain.StyleConfig{Theme: "dark"}},
	}
}

func (m *mockTimerService) Relay(ctx context.Context, tenantID string, kind domain.PublishKind, payload json.RawMessage) error {
	m.record("relay")
	if m.relayFn != nil {
		return m.relayFn(ctx, tenantID, kind, payload)
	}
	return nil
}

type serverOption func(*Server)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(s *Server) { s.healthChecks = checks }
}

func newTestServer(t *testing.T, svc timerService, hub subscriberHub, opts ...serverOption) *Server {
	t.Helper()
	cfg := &config.Config{Port: "0", AdminAPIKey: testAPIKey}
	srv := NewServer(cfg, svc, hub, nil)
	for _, opt := range opts {
		opt(srv)
	}
	require.NotNil(t, srv)
	return srv
}

func adminRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
