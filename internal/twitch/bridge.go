package twitch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultPubSubURL = "https://api.twitch.tv/helix/extensions/pubsub"

	credentialTTL     = 3 * time.Minute
	maxPubSubMessage  = 5 * 1024
	bridgeRatePerMin  = 100
	bridgeBurst       = 10
	bridgeHTTPTimeout = 5 * time.Second
)

var (
	ErrBridgeRateLimited = errors.New("bridge rate limit exceeded")
	ErrMessageTooLarge   = errors.New("bridge message exceeds 5KB")
)

type BridgeConfig struct {
	ClientID string
	// Secret is the base64 extension secret as shown in the developer console.
	Secret     string
	OwnerID    string
	URL        string
	HTTPClient *http.Client
	Clock      clockwork.Clock
}

// ExtensionBridge pushes compact timer updates to the viewer panel through
// Extension PubSub. Every request carries a freshly signed credential scoped
// to the target channel.
type ExtensionBridge struct {
	clientID string
	ownerID  string
	secret   []byte
	url      string
	http     *http.Client
	clock    clockwork.Clock
	cb       *gobreaker.CircuitBreaker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ domain.Bridge = (*ExtensionBridge)(nil)

func NewExtensionBridge(cfg BridgeConfig) (*ExtensionBridge, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode extension secret: %w", err)
	}

	url := cfg.URL
	if url == "" {
		url = DefaultPubSubURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: bridgeHTTPTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "extension-pubsub",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMessageTooLarge)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &ExtensionBridge{
		clientID: cfg.ClientID,
		ownerID:  cfg.OwnerID,
		secret:   secret,
		url:      url,
		http:     client,
		clock:    clock,
		cb:       cb,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Push sends one message to the broadcaster's viewer panel. Failures are
// returned and counted; callers treat them as best effort.
func (b *ExtensionBridge) Push(ctx context.Context, tenantID string, msg domain.BridgeMessage) error {
	if !b.limiter(tenantID).AllowN(b.clock.Now(), 1) {
		metrics.BridgePushesTotal.WithLabelValues("rate_limited").Inc()
		return ErrBridgeRateLimited
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.send(ctx, tenantID, msg)
	})

	switch {
	case err == nil:
		metrics.BridgePushesTotal.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BridgePushesTotal.WithLabelValues("circuit_open").Inc()
		return fmt.Errorf("extension pubsub unavailable: %w", err)
	default:
		metrics.BridgePushesTotal.WithLabelValues("error").Inc()
		return err
	}
}

func (b *ExtensionBridge) limiter(tenantID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(bridgeRatePerMin/60.0), bridgeBurst)
		b.limiters[tenantID] = l
	}
	return l
}

type pubsubPerms struct {
	Send []string `json:"send"`
}

type extensionClaims struct {
	UserID      string      `json:"user_id"`
	Role        string      `json:"role"`
	ChannelID   string      `json:"channel_id"`
	PubSubPerms pubsubPerms `json:"pubsub_perms"`
	jwt.RegisteredClaims
}

// Credential signs a short-lived external-role token for one channel.
func (b *ExtensionBridge) Credential(channelID string) (string, error) {
	claims := extensionClaims{
		UserID:      b.ownerID,
		Role:        "external",
		ChannelID:   channelID,
		PubSubPerms: pubsubPerms{Send: []string{"broadcast"}},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(b.clock.Now().Add(credentialTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("sign extension credential: %w", err)
	}
	return token, nil
}

type pubsubRequest struct {
	Target            []string `json:"target"`
	BroadcasterID     string   `json:"broadcaster_id"`
	IsGlobalBroadcast bool     `json:"is_global_broadcast"`
	Message           string   `json:"message"`
}

func (b *ExtensionBridge) send(ctx context.Context, tenantID string, msg domain.BridgeMessage) error {
	message, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	if len(message) > maxPubSubMessage {
		return ErrMessageTooLarge
	}

	body, err := json.Marshal(pubsubRequest{
		Target:        []string{"broadcast"},
		BroadcasterID: tenantID,
		Message:       string(message),
	})
	if err != nil {
		return fmt.Errorf("marshal pubsub request: %w", err)
	}

	token, err := b.Credential(tenantID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pubsub request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", b.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("extension pubsub request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(detail))}
	}
	return nil
}
