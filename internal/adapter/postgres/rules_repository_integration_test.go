package postgres

import (
	"context"
	"testing"

	"github.com/pscheid92/subathon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesRepo_SaveAndLoad(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRulesRepo(pool)
	ctx := context.Background()

	cfg := domain.DefaultRuleConfig()
	cfg.Bits.Source = domain.BitsFromBitsUse
	cfg.Charity = domain.CharityRule{Enabled: true, PerDollarSeconds: 90}
	cfg.Style = domain.StyleConfig{Theme: "retro"}
	require.NoError(t, repo.SaveRules(ctx, "b1", cfg))

	got, err := repo.LoadRules(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	cfg.Follow = domain.FollowRule{Enabled: true, Seconds: 15}
	require.NoError(t, repo.SaveRules(ctx, "b1", cfg))

	got, err = repo.LoadRules(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	var version int
	require.NoError(t, pool.QueryRow(ctx, "SELECT version FROM rule_configs WHERE broadcaster_id = 'b1'").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestRulesRepo_NotFound(t *testing.T) {
	repo := NewRulesRepo(setupTestDB(t))

	got, err := repo.LoadRules(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRulesNotFound)
	assert.Nil(t, got)
}
