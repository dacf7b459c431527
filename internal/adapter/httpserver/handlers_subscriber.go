package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/subathon/internal/broadcast"
	"github.com/pscheid92/subathon/internal/metrics"
	apperrors "github.com/pscheid92/subathon/internal/platform/errors"
)

const (
	subscriberReadLimit = 512
	closeWriteTimeout   = time.Second
	// per client IP
	subscriberConnectRate  = 2.0
	subscriberConnectBurst = 10
)

func newUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

func (s *Server) registerSubscriberRoutes() {
	s.echo.GET("/ws/timer/:id", s.handleTimerSocket, newRateLimiter(subscriberConnectRate, subscriberConnectBurst))
}

// handleTimerSocket streams a tenant's events to an overlay or panel. The
// subscriber gets the current tick and style first, then live updates.
func (s *Server) handleTimerSocket(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	kinds, err := broadcast.ParseKinds(c.QueryParam("kinds"))
	if err != nil {
		return apperrors.ValidationError(err.Error()).WithField("kinds", c.QueryParam("kinds"))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		metrics.WebSocketConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "broadcaster_id", id, "error", err)
		return nil
	}

	// Built before registering, so any live tick the subscriber sees is at
	// least as new as the join tick. Ticks carry seq for in-flight commits.
	join := s.svc.JoinMessages(c.Request().Context(), id)

	sub, err := s.hub.Register(id, conn, kinds)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many subscribers")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
		return nil
	}
	metrics.WebSocketConnectionsTotal.WithLabelValues("accepted").Inc()

	for _, m := range join {
		s.hub.Send(sub, m.Kind, m.Payload)
	}

	// Subscribers only listen; the read loop keeps pongs flowing and
	// notices when the peer goes away.
	conn.SetReadLimit(subscriberReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Unregister(sub)
	return nil
}
