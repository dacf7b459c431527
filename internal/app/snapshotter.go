package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
)

const snapshotWriteTimeout = 5 * time.Second

// Snapshotter persists timer snapshots off the mutation path. Only the
// newest snapshot per tenant is kept, judged by Seq and not by arrival:
// commits run outside the tenant lock and may reach Save out of order.
type Snapshotter struct {
	store domain.SnapshotStore

	mu      sync.Mutex
	pending map[string]domain.TimerSnapshot
	// latest is the highest Seq accepted per tenant, flushed or not.
	latest map[string]uint64
	wake   chan struct{}
}

func NewSnapshotter(store domain.SnapshotStore) *Snapshotter {
	return &Snapshotter{
		store:   store,
		pending: make(map[string]domain.TimerSnapshot),
		latest:  make(map[string]uint64),
		wake:    make(chan struct{}, 1),
	}
}

// Save queues snap for persistence and returns immediately. A snapshot
// older than one already accepted for the tenant is dropped.
func (s *Snapshotter) Save(snap domain.TimerSnapshot) {
	s.mu.Lock()
	if seq, ok := s.latest[snap.TenantID]; ok && snap.Seq < seq {
		s.mu.Unlock()
		metrics.SnapshotWritesTotal.WithLabelValues("superseded").Inc()
		return
	}
	if _, ok := s.pending[snap.TenantID]; ok {
		metrics.SnapshotWritesTotal.WithLabelValues("superseded").Inc()
	}
	s.latest[snap.TenantID] = snap.Seq
	s.pending[snap.TenantID] = snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until ctx is cancelled, then flushes what is
// left with a fresh deadline.
func (s *Snapshotter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotWriteTimeout)
			s.Flush(flushCtx)
			cancel()
			return
		case <-s.wake:
			s.Flush(ctx)
		}
	}
}

// Flush writes every pending snapshot. Failures are logged and dropped;
// the next mutation of the tenant queues a fresh snapshot anyway.
func (s *Snapshotter) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]domain.TimerSnapshot, len(batch))
	s.mu.Unlock()

	for tenantID, snap := range batch {
		writeCtx, cancel := context.WithTimeout(ctx, snapshotWriteTimeout)
		err := s.store.SaveSnapshot(writeCtx, snap)
		cancel()

		if err != nil {
			metrics.SnapshotWritesTotal.WithLabelValues("error").Inc()
			slog.Warn("Failed to persist timer snapshot", "broadcaster_id", tenantID, "error", err)
			continue
		}
		metrics.SnapshotWritesTotal.WithLabelValues("ok").Inc()
	}
}
