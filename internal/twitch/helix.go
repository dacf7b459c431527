package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/platform/retry"
	"github.com/pscheid92/subathon/internal/platform/version"
)

// StatusError is a non-success answer from the Helix API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.StatusCode, e.Message)
}

// HelixSubscriber registers websocket-transport EventSub subscriptions.
type HelixSubscriber struct {
	mu     sync.Mutex
	client *helix.Client
	policy retry.Policy
}

type HelixConfig struct {
	ClientID    string
	AccessToken string
	// APIBaseURL overrides the Helix endpoint, used by tests.
	APIBaseURL string
	HTTPClient *http.Client
	Clock      clockwork.Clock
}

func NewHelixSubscriber(cfg HelixConfig) (*HelixSubscriber, error) {
	opts := &helix.Options{
		ClientID:        cfg.ClientID,
		UserAccessToken: cfg.AccessToken,
		UserAgent:       version.UserAgent(),
	}
	if cfg.APIBaseURL != "" {
		opts.APIBaseURL = cfg.APIBaseURL
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	}

	client, err := helix.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	return &HelixSubscriber{
		client: client,
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   500 * time.Millisecond,
			MaxBackoff:       5 * time.Second,
			RateLimitBackoff: 10 * time.Second,
			Clock:            cfg.Clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Retrying EventSub subscription", "attempt", attempt, "error", err, "backoff", backoff)
			},
		},
	}, nil
}

func (h *HelixSubscriber) Subscribe(ctx context.Context, broadcasterID, sessionID string, kind domain.EventKind) error {
	condition := helix.EventSubCondition{BroadcasterUserID: broadcasterID}
	if kind == domain.EventFollow {
		condition.ModeratorUserID = broadcasterID
	}

	sub := &helix.EventSubSubscription{
		Type:      string(kind),
		Version:   kind.SubscriptionVersion(),
		Condition: condition,
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	}

	return retry.DoVoid(ctx, h.policy, classifyHelix, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return h.create(sub)
	})
}

func (h *HelixSubscriber) create(sub *helix.EventSubSubscription) error {
	h.mu.Lock()
	resp, err := h.client.CreateEventSubSubscription(sub)
	h.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to create eventsub subscription: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// already subscribed on this session
		return nil
	default:
		msg := resp.ErrorMessage
		if msg == "" {
			msg = resp.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}

func classifyHelix(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}

	var se *StatusError
	if !errors.As(err, &se) {
		return retry.Retry
	}
	switch {
	case se.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case se.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
