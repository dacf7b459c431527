package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
	"github.com/pscheid92/subathon/internal/platform/correlation"
	"github.com/pscheid92/subathon/internal/platform/retry"
)

const (
	DefaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"

	welcomeTimeout   = 10 * time.Second
	initialBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
	handshakeTimeout = 10 * time.Second
	frameBufferSize  = 64
)

// State is the connection lifecycle of a Session.
type State int

const (
	StateConnecting State = iota
	StateWelcomed
	StateSubscribing
	StateLive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWelcomed:
		return "welcomed"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errKeepaliveTimeout = errors.New("keepalive timeout")
	errNoWelcome        = errors.New("no welcome received")
	errUnexpectedClose  = errors.New("connection closed")
)

// Subscriber registers one EventSub subscription for a websocket session.
type Subscriber interface {
	Subscribe(ctx context.Context, broadcasterID, sessionID string, kind domain.EventKind) error
}

// DispatchFunc receives every decoded notification, in arrival order.
type DispatchFunc func(ctx context.Context, env domain.Envelope)

// StatusFunc is told about failed and revoked subscriptions.
type StatusFunc func(ctx context.Context, status domain.SubscriptionStatus)

type SessionConfig struct {
	BroadcasterID string
	URL           string
	Kinds         []domain.EventKind
	QueueSize     int
	Subscriber    Subscriber
	Dispatch      DispatchFunc
	OnStatus      StatusFunc
	Clock         clockwork.Clock
	Dialer        *websocket.Dialer
}

// Session owns one broadcaster's EventSub connection.
type Session struct {
	cfg     SessionConfig
	clock   clockwork.Clock
	dialer  *websocket.Dialer
	queue   chan domain.Envelope
	backoff *retry.Backoff
	logger  *slog.Logger

	mu        sync.RWMutex
	state     State
	sessionID string
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultEventSubURL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Kinds == nil {
		cfg.Kinds = domain.SubscriptionKinds
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment}
	}

	return &Session{
		cfg:     cfg,
		clock:   cfg.Clock,
		dialer:  dialer,
		queue:   make(chan domain.Envelope, cfg.QueueSize),
		backoff: retry.NewBackoff(initialBackoff, maxBackoff),
		logger:  slog.With("broadcaster_id", cfg.BroadcasterID),
	}
}

func (s *Session) BroadcasterID() string { return s.cfg.BroadcasterID }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.IngestSessionState.WithLabelValues(s.cfg.BroadcasterID).Set(float64(state))
}

// Run connects, subscribes and reconnects until ctx is cancelled. It only
// returns once the consumer has drained, and never reports transport faults
// as errors: those are retried with backoff.
func (s *Session) Run(ctx context.Context) error {
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.consume(ctx)
	}()

	defer func() {
		s.setState(StateClosed)
		<-consumerDone
	}()

	for {
		s.setState(StateConnecting)
		err := s.runConnection(ctx, s.cfg.URL)
		if ctx.Err() != nil {
			return nil
		}

		reason := "error"
		if errors.Is(err, errKeepaliveTimeout) {
			reason = "keepalive"
		}
		metrics.IngestReconnectsTotal.WithLabelValues(reason).Inc()

		s.setState(StateReconnecting)
		wait := s.backoff.Next()
		s.logger.Warn("EventSub connection lost, reconnecting", "error", err, "backoff", wait)

		if err := retry.Sleep(ctx, s.clock, wait); err != nil {
			return nil
		}
	}
}

// link is one websocket connection and the frames its reader produced.
type link struct {
	conn   *websocket.Conn
	frames chan frameResult
	done   chan struct{}
	once   sync.Once
}

type frameResult struct {
	frame frame
	err   error
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func (s *Session) dial(ctx context.Context, url string) (*link, error) {
	conn, resp, err := s.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	l := &link{conn: conn, frames: make(chan frameResult, frameBufferSize), done: make(chan struct{})}
	go s.read(l)
	return l, nil
}

func (s *Session) read(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()

		var res frameResult
		if err != nil {
			res.err = err
		} else if jsonErr := json.Unmarshal(data, &res.frame); jsonErr != nil {
			s.logger.Warn("Discarding undecodable EventSub frame", "error", jsonErr)
			continue
		}

		select {
		case l.frames <- res:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}

type subscribeResult struct {
	failed int
}

// runConnection drives one logical session: the initial connection and any
// session_reconnect migrations. It returns when the session is lost, which
// also cancels a subscription batch still running against it.
func (s *Session) runConnection(ctx context.Context, url string) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	current, err := s.dial(ctx, url)
	if err != nil {
		return err
	}
	var pending *link
	defer func() {
		current.close()
		if pending != nil {
			pending.close()
		}
	}()

	watchdog := s.clock.NewTimer(welcomeTimeout)
	defer watchdog.Stop()
	keepalive := welcomeTimeout
	welcomed := false

	var subscribed chan subscribeResult

	var pendingFrames chan frameResult
	for {
		pendingFrames = nil
		if pending != nil {
			pendingFrames = pending.frames
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-watchdog.Chan():
			if !welcomed {
				return errNoWelcome
			}
			return errKeepaliveTimeout

		case res := <-subscribed:
			subscribed = nil
			s.setState(StateLive)
			s.logger.Info("EventSub session live", "session_id", s.SessionID(), "failed_subscriptions", res.failed)

		case res := <-current.frames:
			if res.err != nil {
				if pending != nil {
					// old socket closed before the new one welcomed; keep waiting on the new one
					s.logger.Info("Previous EventSub connection closed during migration", "error", res.err)
					current.close()
					current, pending = pending, nil
					continue
				}
				return fmt.Errorf("%w: %v", errUnexpectedClose, res.err)
			}
			watchdog.Reset(keepalive)

			f := res.frame
			metrics.IngestFramesTotal.WithLabelValues(f.Metadata.MessageType).Inc()

			switch f.Metadata.MessageType {
			case msgWelcome:
				p, err := decodeSession(f.Payload)
				if err != nil {
					return err
				}
				if welcomed {
					// migration target welcomed after the old link already dropped
					keepalive = keepaliveTimeout(p)
					watchdog.Reset(keepalive)
					s.migrated(p.Session.ID, subscribed == nil)
					continue
				}
				welcomed = true
				keepalive = keepaliveTimeout(p)
				watchdog.Reset(keepalive)
				s.onWelcome(p.Session.ID)
				subscribed = s.subscribeAll(connCtx, p.Session.ID)
			case msgReconnect:
				if pending != nil {
					continue
				}
				p, err := decodeSession(f.Payload)
				if err != nil || p.Session.ReconnectURL == "" {
					s.logger.Warn("Ignoring session_reconnect without url", "error", err)
					continue
				}
				s.setState(StateReconnecting)
				metrics.IngestReconnectsTotal.WithLabelValues("migrate").Inc()
				pending, err = s.dial(ctx, p.Session.ReconnectURL)
				if err != nil {
					return err
				}
			default:
				s.handleFrame(ctx, f)
			}

		case res := <-pendingFrames:
			if res.err != nil {
				return fmt.Errorf("reconnect target: %w", res.err)
			}
			watchdog.Reset(keepalive)

			f := res.frame
			metrics.IngestFramesTotal.WithLabelValues(f.Metadata.MessageType).Inc()

			if f.Metadata.MessageType == msgWelcome {
				p, err := decodeSession(f.Payload)
				if err != nil {
					return err
				}
				// cut over: subscriptions carry across to the new session
				current.close()
				current, pending = pending, nil
				keepalive = keepaliveTimeout(p)
				watchdog.Reset(keepalive)
				s.migrated(p.Session.ID, subscribed == nil)
				continue
			}
			s.handleFrame(ctx, f)
		}
	}
}

func decodeSession(raw json.RawMessage) (sessionPayload, error) {
	var p sessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode session payload: %w", err)
	}
	return p, nil
}

func keepaliveTimeout(p sessionPayload) time.Duration {
	if p.Session.KeepaliveTimeoutSeconds <= 0 {
		return welcomeTimeout
	}
	return time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
}

func (s *Session) onWelcome(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
	s.backoff.Reset()
	s.setState(StateWelcomed)
	s.logger.Info("EventSub session welcomed", "session_id", sessionID)
}

func (s *Session) migrated(sessionID string, live bool) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
	if live {
		s.setState(StateLive)
	} else {
		s.setState(StateSubscribing)
	}
	s.logger.Info("EventSub session migrated", "session_id", sessionID)
}

// subscribeAll registers every configured kind off the read loop. Individual
// failures are reported as status and never abort the session. ctx ends with
// the connection; a batch for a lost session stops without reporting.
func (s *Session) subscribeAll(ctx context.Context, sessionID string) chan subscribeResult {
	s.setState(StateSubscribing)
	done := make(chan subscribeResult, 1)

	go func() {
		var res subscribeResult
		for _, kind := range s.cfg.Kinds {
			if ctx.Err() != nil {
				return
			}
			err := s.cfg.Subscriber.Subscribe(ctx, s.cfg.BroadcasterID, sessionID, kind)
			if err == nil {
				metrics.SubscriptionRequestsTotal.WithLabelValues(string(kind), "ok").Inc()
				continue
			}
			if ctx.Err() != nil {
				return
			}

			res.failed++
			metrics.SubscriptionRequestsTotal.WithLabelValues(string(kind), "failed").Inc()
			s.logger.WarnContext(ctx, "EventSub subscription failed", "type", kind, "error", err)
			s.status(ctx, kind, domain.SubscriptionFailed, err.Error())
		}
		done <- res
	}()

	return done
}

func (s *Session) handleFrame(ctx context.Context, f frame) {
	switch f.Metadata.MessageType {
	case msgKeepalive:
	case msgNotification:
		s.handleNotification(f)
	case msgRevocation:
		var p revocationPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Warn("Undecodable revocation", "error", err)
			return
		}
		kind := domain.EventKind(p.Subscription.Type)
		metrics.RevocationsTotal.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("EventSub subscription revoked", "type", kind, "status", p.Subscription.Status)
		s.status(ctx, kind, domain.SubscriptionRevoked, p.Subscription.Status)
	default:
		s.logger.Debug("Ignoring EventSub frame", "message_type", f.Metadata.MessageType)
	}
}

func (s *Session) handleNotification(f frame) {
	var p notificationPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		metrics.IngestNotificationsTotal.WithLabelValues(f.Metadata.SubscriptionType, "malformed").Inc()
		s.logger.Warn("Undecodable notification", "message_id", f.Metadata.MessageID, "error", err)
		return
	}

	kind := domain.EventKind(p.Subscription.Type)
	event, err := DecodeEvent(kind, p.Event)
	if err != nil {
		metrics.IngestNotificationsTotal.WithLabelValues(string(kind), "malformed").Inc()
		s.logger.Warn("Undecodable notification event", "message_id", f.Metadata.MessageID, "type", kind, "error", err)
		return
	}

	env := domain.Envelope{
		SourceID:   f.Metadata.MessageID,
		TenantID:   s.cfg.BroadcasterID,
		Kind:       kind,
		Payload:    p.Event,
		Event:      event,
		SentAt:     f.Metadata.MessageTimestamp,
		ReceivedAt: s.clock.Now(),
	}

	select {
	case s.queue <- env:
		metrics.IngestQueueDepth.WithLabelValues(s.cfg.BroadcasterID).Set(float64(len(s.queue)))
	default:
		metrics.IngestDroppedTotal.Inc()
		s.logger.Warn("Ingest queue full, dropping notification", "message_id", env.SourceID, "type", kind, "queue_size", cap(s.queue))
	}
}

func (s *Session) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.queue:
			metrics.IngestQueueDepth.WithLabelValues(s.cfg.BroadcasterID).Set(float64(len(s.queue)))
			dctx := correlation.WithTenant(correlation.WithID(ctx, env.SourceID), env.TenantID)
			s.cfg.Dispatch(dctx, env)
		}
	}
}

func (s *Session) status(ctx context.Context, kind domain.EventKind, state, reason string) {
	if s.cfg.OnStatus == nil {
		return
	}
	s.cfg.OnStatus(ctx, domain.SubscriptionStatus{
		TenantID: s.cfg.BroadcasterID,
		Type:     kind,
		State:    state,
		Reason:   reason,
		At:       s.clock.Now(),
	})
}
