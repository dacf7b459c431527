package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pscheid92/subathon/internal/domain"
	apperrors "github.com/pscheid92/subathon/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodedState struct {
	Remaining int64              `json:"remaining"`
	State     map[string]any     `json:"state"`
	Clamp     *clampInfo         `json:"clamp"`
	Rules     *domain.RuleConfig `json:"rules"`
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) decodedState {
	t.Helper()
	var out decodedState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/b1/state", nil)
	req.Header.Set("X-API-Key", "wrong-key-wrong-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_MissingAPIKey(t *testing.T) {
	svc := &mockTimerService{}
	srv := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/b1/state", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestAdmin_Start(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/start", `{"seconds": 3600}`)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeState(t, rec)
	assert.Equal(t, int64(3600), out.Remaining)
	assert.Equal(t, "b1", out.State["tenant_id"])
	assert.Nil(t, out.Clamp)
	assert.NotEmpty(t, rec.Header().Get(correlationHeader))
}

func TestAdmin_StartRequiresSeconds(t *testing.T) {
	srv := newTestServer(t, &mockTimerService{}, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/start", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestAdmin_StartInvalidSeconds(t *testing.T) {
	svc := &mockTimerService{
		startFn: func(context.Context, string, int64) (domain.TimerSnapshot, error) {
			return domain.TimerSnapshot{}, fmt.Errorf("start -5: %w", domain.ErrInvalidSeconds)
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/start", `{"seconds": -5}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_InvalidTenantID(t *testing.T) {
	svc := &mockTimerService{}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodGet, "/api/tenants/bad.id/state", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestAdmin_AddReportsClamp(t *testing.T) {
	svc := &mockTimerService{
		addFn: func(_ context.Context, tenantID string, seconds int64) (domain.ApplyResult, error) {
			return domain.ApplyResult{
				Requested: seconds,
				Applied:   100,
				Clamped:   true,
				Snapshot:  snapshotWith(tenantID, 100*time.Second),
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/add", `{"seconds": 300}`)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeState(t, rec)
	require.NotNil(t, out.Clamp)
	assert.Equal(t, int64(300), out.Clamp.Requested)
	assert.Equal(t, int64(100), out.Clamp.Applied)
	assert.Equal(t, int64(100), out.Remaining)
}

func TestAdmin_SimpleCommands(t *testing.T) {
	tests := []struct {
		path string
		body string
		call string
	}{
		{"/api/tenants/b1/subtract", `{"seconds": 10}`, "subtract"},
		{"/api/tenants/b1/pause", "", "pause"},
		{"/api/tenants/b1/resume", "", "resume"},
		{"/api/tenants/b1/clear", "", "clear"},
		{"/api/tenants/b1/cap", `{"seconds": 7200}`, "set_cap"},
		{"/api/tenants/b1/cap/force", `{"forced": true}`, "force_cap"},
		{"/api/tenants/b1/hype", `{"active": true}`, "set_hype"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			svc := &mockTimerService{}
			srv := newTestServer(t, svc, nil)

			rec := adminRequest(t, srv, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, []string{tt.call}, svc.calls)
		})
	}
}

func TestAdmin_HypeRequiresActive(t *testing.T) {
	svc := &mockTimerService{}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/hype", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestAdmin_BonusWindowAndToggle(t *testing.T) {
	var got domain.BonusWindow
	svc := &mockTimerService{
		setBonusWindowFn: func(_ context.Context, tenantID string, window domain.BonusWindow) (domain.TimerSnapshot, error) {
			got = window
			return snapshotWith(tenantID, 0), nil
		},
	}
	srv := newTestServer(t, svc, nil)

	body := `{"start": "2026-01-01T18:00:00Z", "end": null, "active": true}`
	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/bonus", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got.Start)
	assert.Equal(t, time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC), got.Start.UTC())
	assert.Nil(t, got.End)
	assert.Equal(t, []string{"set_bonus_window", "set_bonus"}, svc.calls)

	out := decodeState(t, rec)
	assert.Equal(t, true, out.State["bonus_active"])
}

func TestAdmin_BonusInvalidWindow(t *testing.T) {
	svc := &mockTimerService{
		setBonusWindowFn: func(context.Context, string, domain.BonusWindow) (domain.TimerSnapshot, error) {
			return domain.TimerSnapshot{}, fmt.Errorf("%w: end must be after start", domain.ErrInvalidWindow)
		},
	}
	srv := newTestServer(t, svc, nil)

	body := `{"start": "2026-01-01T18:00:00Z", "end": "2026-01-01T17:00:00Z", "active": true}`
	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/bonus", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"set_bonus_window"}, svc.calls)
}

func TestAdmin_PutRules(t *testing.T) {
	var saved domain.RuleConfig
	svc := &mockTimerService{
		setRulesFn: func(_ context.Context, tenantID string, cfg domain.RuleConfig) (domain.TimerSnapshot, error) {
			saved = cfg
			return snapshotWith(tenantID, 0), nil
		},
	}
	srv := newTestServer(t, svc, nil)

	cfg := domain.DefaultRuleConfig()
	cfg.Follow = domain.FollowRule{Enabled: true, Seconds: 30}
	body, err := json.Marshal(cfg)
	require.NoError(t, err)

	rec := adminRequest(t, srv, http.MethodPut, "/api/tenants/b1/rules", string(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 30, saved.Follow.Seconds)
	out := decodeState(t, rec)
	require.NotNil(t, out.Rules)
	assert.True(t, out.Rules.Follow.Enabled)
}

func TestAdmin_PutRulesRejected(t *testing.T) {
	svc := &mockTimerService{
		setRulesFn: func(context.Context, string, domain.RuleConfig) (domain.TimerSnapshot, error) {
			return domain.TimerSnapshot{}, fmt.Errorf("%w: bits.per must be positive", domain.ErrInvalidRules)
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPut, "/api/tenants/b1/rules", `{"bits": {"enabled": true, "per": 0}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_GetRulesAndState(t *testing.T) {
	svc := &mockTimerService{}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodGet, "/api/tenants/b1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeState(t, rec)
	require.NotNil(t, out.Rules)
	assert.Equal(t, domain.DefaultRuleConfig().Bits, out.Rules.Bits)

	rec = adminRequest(t, srv, http.MethodGet, "/api/tenants/b1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(90), decodeState(t, rec).Remaining)
}

func TestAdmin_Relay(t *testing.T) {
	var gotKind domain.PublishKind
	var gotPayload json.RawMessage
	svc := &mockTimerService{relayFn: func(_ context.Context, tenantID string, kind domain.PublishKind, payload json.RawMessage) error {
		assert.Equal(t, "b1", tenantID)
		gotKind, gotPayload = kind, payload
		return nil
	}}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/relay/sound", `{"clip":"airhorn","volume":0.8}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.KindSound, gotKind)
	assert.JSONEq(t, `{"clip":"airhorn","volume":0.8}`, string(gotPayload))
}

func TestAdmin_RelayRejected(t *testing.T) {
	svc := &mockTimerService{relayFn: func(context.Context, string, domain.PublishKind, json.RawMessage) error {
		return fmt.Errorf("%w: kind %q is not relayed", domain.ErrInvalidRelay, "tick")
	}}
	srv := newTestServer(t, svc, nil)

	rec := adminRequest(t, srv, http.MethodPost, "/api/tenants/b1/relay/tick", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
