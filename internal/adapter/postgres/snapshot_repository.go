package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/subathon/internal/domain"
)

const upsertSnapshot = `-- name: UpsertSnapshot
INSERT INTO timer_snapshots (
    broadcaster_id, paused, expires_at, remaining_at_pause_ms,
    hype_active, bonus_active, bonus_start, bonus_end,
    initial_seconds, additions_total, max_total_seconds, cap_forced, taken_at, seq
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (broadcaster_id) DO UPDATE SET
    paused = EXCLUDED.paused,
    expires_at = EXCLUDED.expires_at,
    remaining_at_pause_ms = EXCLUDED.remaining_at_pause_ms,
    hype_active = EXCLUDED.hype_active,
    bonus_active = EXCLUDED.bonus_active,
    bonus_start = EXCLUDED.bonus_start,
    bonus_end = EXCLUDED.bonus_end,
    initial_seconds = EXCLUDED.initial_seconds,
    additions_total = EXCLUDED.additions_total,
    max_total_seconds = EXCLUDED.max_total_seconds,
    cap_forced = EXCLUDED.cap_forced,
    taken_at = EXCLUDED.taken_at,
    seq = EXCLUDED.seq,
    updated_at = NOW()
WHERE timer_snapshots.taken_at <= EXCLUDED.taken_at`

const getSnapshot = `-- name: GetSnapshot
SELECT paused, expires_at, remaining_at_pause_ms,
       hype_active, bonus_active, bonus_start, bonus_end,
       initial_seconds, additions_total, max_total_seconds, cap_forced, taken_at, seq
FROM timer_snapshots
WHERE broadcaster_id = $1`

// SnapshotRepo keeps one overwrite-in-place row per broadcaster.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotRepo)(nil)

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// SaveSnapshot overwrites the stored row unless it holds a newer snapshot.
func (r *SnapshotRepo) SaveSnapshot(ctx context.Context, snap domain.TimerSnapshot) error {
	var expiresAt *time.Time
	if !snap.Paused && !snap.ExpiresAt.IsZero() {
		expiresAt = &snap.ExpiresAt
	}

	_, err := r.pool.Exec(ctx, upsertSnapshot,
		snap.TenantID,
		snap.Paused,
		expiresAt,
		snap.RemainingAtPause.Milliseconds(),
		snap.HypeActive,
		snap.BonusActive,
		snap.BonusWindow.Start,
		snap.BonusWindow.End,
		snap.InitialSeconds,
		snap.AdditionsTotal,
		snap.MaxTotalSeconds,
		snap.CapForced,
		snap.TakenAt,
		int64(snap.Seq),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) LoadSnapshot(ctx context.Context, tenantID string) (*domain.TimerSnapshot, error) {
	snap := domain.TimerSnapshot{TenantID: tenantID}
	var expiresAt *time.Time
	var remainingMs, seq int64

	err := r.pool.QueryRow(ctx, getSnapshot, tenantID).Scan(
		&snap.Paused,
		&expiresAt,
		&remainingMs,
		&snap.HypeActive,
		&snap.BonusActive,
		&snap.BonusWindow.Start,
		&snap.BonusWindow.End,
		&snap.InitialSeconds,
		&snap.AdditionsTotal,
		&snap.MaxTotalSeconds,
		&snap.CapForced,
		&snap.TakenAt,
		&seq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap.RemainingAtPause = time.Duration(remainingMs) * time.Millisecond
	snap.Seq = uint64(max(0, seq))
	if expiresAt != nil {
		snap.ExpiresAt = *expiresAt
	}
	if snap.Paused {
		snap.Remaining = snap.RemainingAtPause
	} else if expiresAt != nil {
		snap.Remaining = max(0, snap.ExpiresAt.Sub(snap.TakenAt))
	}
	return &snap, nil
}
