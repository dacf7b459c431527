package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pscheid92/subathon/internal/dedup"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T) (*Guard, *miniredis.Miniredis, *dedup.Guard) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	local := dedup.NewGuard(16)
	return NewGuard(rdb, time.Minute, local), mr, local
}

func TestGuard_ClaimOnce(t *testing.T) {
	g, mr, _ := setupGuard(t)
	ctx := context.Background()

	first, err := g.Claim(ctx, "b1", "msg-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := g.Claim(ctx, "b1", "msg-1")
	require.NoError(t, err)
	assert.False(t, second)

	assert.True(t, mr.Exists("dedup:b1:msg-1"))
	assert.Equal(t, time.Minute, mr.TTL("dedup:b1:msg-1"))
}

func TestGuard_TenantsAreIndependent(t *testing.T) {
	g, _, _ := setupGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "b1", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "b2", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuard_ExpiredKeyCanBeClaimedAgain(t *testing.T) {
	g, mr, _ := setupGuard(t)
	ctx := context.Background()

	_, err := g.Claim(ctx, "b1", "msg-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := g.Seen(ctx, "b1", "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuard_SeenAndRemember(t *testing.T) {
	g, _, local := setupGuard(t)
	ctx := context.Background()

	seen, err := g.Seen(ctx, "b1", "msg-9")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, g.Remember(ctx, "b1", "msg-9"))

	seen, err = g.Seen(ctx, "b1", "msg-9")
	require.NoError(t, err)
	assert.True(t, seen)

	localSeen, _ := local.Seen(ctx, "b1", "msg-9")
	assert.True(t, localSeen)
}

func TestGuard_FallsBackWhenRedisDown(t *testing.T) {
	g, mr, _ := setupGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "b1", "before")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()

	// Ids accepted while Redis was up are still known locally.
	ok, err = g.Claim(ctx, "b1", "before")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Claim(ctx, "b1", "after")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "b1", "after")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, g.Ping(ctx))
}
