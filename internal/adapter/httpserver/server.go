package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/subathon/internal/app"
	"github.com/pscheid92/subathon/internal/broadcast"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/platform/config"
)

// timerService is the admin and subscriber surface of app.Service.
type timerService interface {
	Start(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error)
	Add(ctx context.Context, tenantID string, seconds int64) (domain.ApplyResult, error)
	Subtract(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error)
	Pause(ctx context.Context, tenantID string) domain.TimerSnapshot
	Resume(ctx context.Context, tenantID string) domain.TimerSnapshot
	Clear(ctx context.Context, tenantID string) domain.TimerSnapshot
	SetCap(ctx context.Context, tenantID string, seconds int64) (domain.TimerSnapshot, error)
	ForceCap(ctx context.Context, tenantID string, forced bool) domain.TimerSnapshot
	SetHype(ctx context.Context, tenantID string, active bool) domain.TimerSnapshot
	SetBonusWindow(ctx context.Context, tenantID string, window domain.BonusWindow) (domain.TimerSnapshot, error)
	SetBonus(ctx context.Context, tenantID string, active bool) domain.TimerSnapshot
	State(ctx context.Context, tenantID string) domain.TimerSnapshot
	SetRules(ctx context.Context, tenantID string, cfg domain.RuleConfig) (domain.TimerSnapshot, error)
	Rules(ctx context.Context, tenantID string) domain.RuleConfig
	JoinMessages(ctx context.Context, tenantID string) []app.JoinMessage
	Relay(ctx context.Context, tenantID string, kind domain.PublishKind, payload json.RawMessage) error
}

// subscriberHub is the registration side of broadcast.Broadcaster.
type subscriberHub interface {
	Register(tenantKey string, conn broadcast.Conn, kinds []domain.PublishKind) (*broadcast.Subscriber, error)
	Unregister(sub *broadcast.Subscriber)
	Send(sub *broadcast.Subscriber, kind domain.PublishKind, payload any) bool
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	svc      timerService
	hub      subscriberHub
	upgrader *websocket.Upgrader

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, svc timerService, hub subscriberHub, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		svc:          svc,
		hub:          hub,
		upgrader:     newUpgrader(newCheckOrigin(cfg.AllowedOriginList(), cfg.ExtensionClientID, !cfg.IsProduction())),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
