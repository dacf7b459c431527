package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/timer"
)

const defaultTickInterval = time.Second

// TenantLister reports tenants that currently have subscribers.
type TenantLister interface {
	ActiveTenants() []string
}

// Ticker periodically republishes the state tick for watched tenants, so
// late joiners re-sync and bonus windows opening or closing show up without
// a mutation. Ticks are not persisted and not bridged.
type Ticker struct {
	timers    *timer.Registry
	tenants   TenantLister
	publisher domain.Publisher
	clock     clockwork.Clock
	interval  time.Duration
}

func NewTicker(timers *timer.Registry, tenants TenantLister, publisher domain.Publisher, clock clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Ticker{
		timers:    timers,
		tenants:   tenants,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	tenants := t.tenants.ActiveTenants()
	for _, id := range tenants {
		t.publisher.Publish(id, domain.KindTick, t.timers.Snapshot(id).Tick())
	}
	if len(tenants) > 0 {
		slog.Debug("Ticker: republished state", "tenants", len(tenants))
	}
}
