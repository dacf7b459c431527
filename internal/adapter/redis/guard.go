package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pscheid92/subathon/internal/dedup"
	"github.com/pscheid92/subathon/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultDedupTTL covers Twitch's redelivery window; notifications older than
// that are rejected as stale before they reach the guard.
const DefaultDedupTTL = 10 * time.Minute

// Guard is an IdempotencyGuard shared across instances through Redis.
// SET NX makes check-then-remember one atomic step. When Redis fails the
// guard answers from a process-local ring instead, which also records every
// id Redis accepted.
type Guard struct {
	rdb      *goredis.Client
	ttl      time.Duration
	fallback *dedup.Guard
}

var _ domain.IdempotencyGuard = (*Guard)(nil)

func NewGuard(rdb *goredis.Client, ttl time.Duration, fallback *dedup.Guard) *Guard {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Guard{rdb: rdb, ttl: ttl, fallback: fallback}
}

func dedupKey(tenantID, sourceID string) string {
	return "dedup:" + tenantID + ":" + sourceID
}

func (g *Guard) Claim(ctx context.Context, tenantID, sourceID string) (bool, error) {
	args := goredis.SetArgs{TTL: g.ttl, Mode: "NX"}
	_, err := g.rdb.SetArgs(ctx, dedupKey(tenantID, sourceID), "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		slog.WarnContext(ctx, "Redis dedup unavailable, using local guard", "broadcaster_id", tenantID, "error", err)
		return g.fallback.Claim(ctx, tenantID, sourceID)
	}

	_ = g.fallback.Remember(ctx, tenantID, sourceID)
	return true, nil
}

func (g *Guard) Seen(ctx context.Context, tenantID, sourceID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, dedupKey(tenantID, sourceID)).Result()
	if err != nil {
		return g.fallback.Seen(ctx, tenantID, sourceID)
	}
	return n > 0, nil
}

func (g *Guard) Remember(ctx context.Context, tenantID, sourceID string) error {
	_ = g.fallback.Remember(ctx, tenantID, sourceID)
	if err := g.rdb.Set(ctx, dedupKey(tenantID, sourceID), "1", g.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "Redis dedup remember failed", "broadcaster_id", tenantID, "error", err)
	}
	return nil
}

// Ping is the readiness check for Redis.
func (g *Guard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
