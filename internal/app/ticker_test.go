package app

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicker_RepublishesActiveTenants(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timers := timer.NewRegistry(clock)
	_, err := timers.Start("a", 100)
	require.NoError(t, err)

	pub := &recordingPublisher{active: []string{"a"}}
	ticker := NewTicker(timers, pub, pub, clock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return len(pub.ofKind(domain.KindTick)) == 1 }, time.Second, 5*time.Millisecond)

	tick := pub.ofKind(domain.KindTick)[0]
	assert.Equal(t, "a", tick.tenant)
	assert.Equal(t, domain.Tick{Remaining: 99, Seq: 1}, tick.payload)
	assert.Empty(t, pub.states, "ticks are not persisted or bridged")
}

func TestTicker_NoSubscribersNoTicks(t *testing.T) {
	timers := timer.NewRegistry(clockwork.NewFakeClock())
	pub := &recordingPublisher{}

	NewTicker(timers, pub, pub, clockwork.NewFakeClock(), 0).tick()
	assert.Empty(t, pub.ofKind(domain.KindTick))
}
