package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/subathon/internal/domain"
	apperrors "github.com/pscheid92/subathon/internal/platform/errors"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type secondsRequest struct {
	Seconds *int64 `json:"seconds"`
}

type forcedRequest struct {
	Forced *bool `json:"forced"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type bonusRequest struct {
	Start  *time.Time `json:"start"`
	End    *time.Time `json:"end"`
	Active *bool      `json:"active"`
}

type clampInfo struct {
	Requested int64 `json:"requested"`
	Applied   int64 `json:"applied"`
}

type stateResponse struct {
	Remaining int64                `json:"remaining"`
	State     domain.TimerSnapshot `json:"state"`
	Clamp     *clampInfo           `json:"clamp,omitempty"`
	Rules     *domain.RuleConfig   `json:"rules,omitempty"`
}

func (s *Server) registerAdminRoutes(auth echo.MiddlewareFunc) {
	g := s.echo.Group("/api/tenants/:id", auth)
	g.POST("/start", s.handleStart)
	g.POST("/add", s.handleAdd)
	g.POST("/subtract", s.handleSubtract)
	g.POST("/pause", s.handlePause)
	g.POST("/resume", s.handleResume)
	g.POST("/clear", s.handleClear)
	g.POST("/cap", s.handleSetCap)
	g.POST("/cap/force", s.handleForceCap)
	g.POST("/hype", s.handleHype)
	g.POST("/bonus", s.handleBonus)
	g.PUT("/rules", s.handlePutRules)
	g.GET("/rules", s.handleGetRules)
	g.GET("/state", s.handleState)
	g.POST("/relay/:kind", s.handleRelay)
}

// maxRelayBody caps what is read from a relay request; the service decides
// what is too large.
const maxRelayBody = 64 << 10

func tenantParam(c echo.Context) (string, error) {
	id := c.Param("id")
	if !tenantIDPattern.MatchString(id) {
		return "", apperrors.ValidationError("invalid tenant id").WithField("tenant_id", id)
	}
	return id, nil
}

func bindSeconds(c echo.Context) (int64, error) {
	var req secondsRequest
	if err := c.Bind(&req); err != nil {
		return 0, apperrors.ValidationError("invalid request body")
	}
	if req.Seconds == nil {
		return 0, apperrors.ValidationError("seconds is required")
	}
	return *req.Seconds, nil
}

func respond(c echo.Context, resp stateResponse) error {
	resp.Remaining = resp.State.RemainingSeconds()
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStart(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	seconds, err := bindSeconds(c)
	if err != nil {
		return err
	}

	snap, err := s.svc.Start(c.Request().Context(), id, seconds)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: snap})
}

func (s *Server) handleAdd(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	seconds, err := bindSeconds(c)
	if err != nil {
		return err
	}

	result, err := s.svc.Add(c.Request().Context(), id, seconds)
	if err != nil {
		return err
	}

	resp := stateResponse{State: result.Snapshot}
	if result.Clamped {
		resp.Clamp = &clampInfo{Requested: result.Requested, Applied: result.Applied}
	}
	return respond(c, resp)
}

func (s *Server) handleSubtract(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	seconds, err := bindSeconds(c)
	if err != nil {
		return err
	}

	snap, err := s.svc.Subtract(c.Request().Context(), id, seconds)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: snap})
}

func (s *Server) handlePause(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: s.svc.Pause(c.Request().Context(), id)})
}

func (s *Server) handleResume(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: s.svc.Resume(c.Request().Context(), id)})
}

func (s *Server) handleClear(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: s.svc.Clear(c.Request().Context(), id)})
}

func (s *Server) handleSetCap(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	seconds, err := bindSeconds(c)
	if err != nil {
		return err
	}

	snap, err := s.svc.SetCap(c.Request().Context(), id, seconds)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: snap})
}

func (s *Server) handleForceCap(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req forcedRequest
	if err := c.Bind(&req); err != nil || req.Forced == nil {
		return apperrors.ValidationError("forced is required")
	}
	return respond(c, stateResponse{State: s.svc.ForceCap(c.Request().Context(), id, *req.Forced)})
}

func (s *Server) handleHype(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return apperrors.ValidationError("active is required")
	}
	return respond(c, stateResponse{State: s.svc.SetHype(c.Request().Context(), id, *req.Active)})
}

// handleBonus replaces the bonus window. Null bounds are open; the optional
// active flag toggles the bonus in the same request.
func (s *Server) handleBonus(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req bonusRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	ctx := c.Request().Context()
	snap, err := s.svc.SetBonusWindow(ctx, id, domain.BonusWindow{Start: req.Start, End: req.End})
	if err != nil {
		return err
	}
	if req.Active != nil {
		snap = s.svc.SetBonus(ctx, id, *req.Active)
	}
	return respond(c, stateResponse{State: snap})
}

func (s *Server) handlePutRules(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var cfg domain.RuleConfig
	if err := c.Bind(&cfg); err != nil {
		return apperrors.ValidationError("invalid rule config")
	}

	snap, err := s.svc.SetRules(c.Request().Context(), id, cfg)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: snap, Rules: &cfg})
}

func (s *Server) handleGetRules(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cfg := s.svc.Rules(ctx, id)
	return respond(c, stateResponse{State: s.svc.State(ctx, id), Rules: &cfg})
}

func (s *Server) handleState(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	return respond(c, stateResponse{State: s.svc.State(c.Request().Context(), id)})
}

// handleRelay passes a sound or goal payload from an external producer to
// the tenant's subscribers.
func (s *Server) handleRelay(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRelayBody))
	if err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	if err := s.svc.Relay(c.Request().Context(), id, domain.PublishKind(c.Param("kind")), body); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
