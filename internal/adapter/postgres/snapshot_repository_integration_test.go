package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pscheid92/subathon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRepo_SaveAndLoadRunning(t *testing.T) {
	repo := NewSnapshotRepo(setupTestDB(t))
	ctx := context.Background()

	takenAt := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	start := takenAt.Add(-time.Hour)
	snap := domain.TimerSnapshot{
		TenantID:        "b1",
		ExpiresAt:       takenAt.Add(90 * time.Minute),
		HypeActive:      true,
		BonusActive:     true,
		BonusWindow:     domain.BonusWindow{Start: &start},
		InitialSeconds:  3600,
		AdditionsTotal:  1800,
		MaxTotalSeconds: 7200,
		TakenAt:         takenAt,
		Seq:             17,
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, err := repo.LoadSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, got.Paused)
	assert.True(t, snap.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, 90*time.Minute, got.Remaining)
	assert.True(t, got.HypeActive)
	assert.True(t, got.BonusActive)
	require.NotNil(t, got.BonusWindow.Start)
	assert.True(t, start.Equal(*got.BonusWindow.Start))
	assert.Nil(t, got.BonusWindow.End)
	assert.Equal(t, int64(3600), got.InitialSeconds)
	assert.Equal(t, int64(1800), got.AdditionsTotal)
	assert.Equal(t, int64(7200), got.MaxTotalSeconds)
	assert.Equal(t, uint64(17), got.Seq)
}

func TestSnapshotRepo_SaveAndLoadPaused(t *testing.T) {
	repo := NewSnapshotRepo(setupTestDB(t))
	ctx := context.Background()

	snap := domain.TimerSnapshot{
		TenantID:         "b1",
		Paused:           true,
		RemainingAtPause: 754 * time.Second,
		CapForced:        true,
		TakenAt:          time.Now().UTC(),
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, err := repo.LoadSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.Equal(t, int64(754), got.RemainingSeconds())
	assert.True(t, got.CapForced)
}

func TestSnapshotRepo_OverwritesInPlace(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSnapshotRepo(pool)
	ctx := context.Background()

	t0 := time.Now().UTC()
	require.NoError(t, repo.SaveSnapshot(ctx, domain.TimerSnapshot{TenantID: "b1", Paused: true, InitialSeconds: 1, TakenAt: t0}))
	require.NoError(t, repo.SaveSnapshot(ctx, domain.TimerSnapshot{TenantID: "b1", Paused: true, InitialSeconds: 2, TakenAt: t0.Add(time.Second)}))

	// an out-of-order older write does not clobber the newer one
	require.NoError(t, repo.SaveSnapshot(ctx, domain.TimerSnapshot{TenantID: "b1", Paused: true, InitialSeconds: 3, TakenAt: t0.Add(-time.Second)}))

	var rows int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM timer_snapshots").Scan(&rows))
	assert.Equal(t, 1, rows)

	got, err := repo.LoadSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.InitialSeconds)
}

func TestSnapshotRepo_NotFound(t *testing.T) {
	repo := NewSnapshotRepo(setupTestDB(t))

	got, err := repo.LoadSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	assert.Nil(t, got)
}
