package twitch

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/broadcast"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleConn is a subscriber socket that accepts every write.
type idleConn struct{}

func (idleConn) WriteMessage(int, []byte) error    { return nil }
func (idleConn) SetWriteDeadline(time.Time) error  { return nil }
func (idleConn) SetReadDeadline(time.Time) error   { return nil }
func (idleConn) SetPongHandler(func(string) error) {}
func (idleConn) Close() error                      { return nil }

func TestSupervisor_TenantsReconnectIndependently(t *testing.T) {
	srv := newFakeEventSub(t)
	sub := &fakeSubscriber{fail: map[domain.EventKind]bool{}}

	timers := timer.NewRegistry(clockwork.NewFakeClock())
	_, err := timers.Start("b1", 600)
	require.NoError(t, err)
	_, err = timers.Start("b2", 900)
	require.NoError(t, err)
	hub := broadcast.NewBroadcaster(clockwork.NewRealClock(), 10, nil)
	t.Cleanup(hub.Stop)
	for range 2 {
		_, err := hub.Register("b2", idleConn{}, nil)
		require.NoError(t, err)
	}

	sup := NewSupervisor([]string{"b2", "b1"}, SessionConfig{
		URL:        srv.url(),
		Kinds:      []domain.EventKind{domain.EventCheer},
		Subscriber: sub,
		Dispatch:   func(context.Context, domain.Envelope) {},
	})
	assert.Equal(t, []string{"b1", "b2"}, sup.BroadcasterIDs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conns := map[string]*serverConn{}
	for _, sessionID := range []string{"s-x", "s-y"} {
		c := srv.accept(t)
		c.welcome(t, sessionID, 10)
		conns[sessionID] = c
	}

	require.Eventually(t, func() bool {
		states := sup.States()
		return states["b1"] == StateLive && states["b2"] == StateLive
	}, waitFor, 5*time.Millisecond)

	b1, b2 := sup.sessions["b1"], sup.sessions["b2"]
	b2Session := b2.SessionID()
	b2Timer := timers.Snapshot("b2")

	require.NoError(t, conns[b1.SessionID()].Close())

	next := srv.accept(t)
	next.welcome(t, "s-z", 10)
	require.Eventually(t, func() bool {
		return b1.SessionID() == "s-z" && b1.State() == StateLive
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, StateLive, b2.State())
	assert.Equal(t, b2Session, b2.SessionID())
	assert.Equal(t, b2Timer, timers.Snapshot("b2"))
	assert.Equal(t, 2, hub.ClientCount("b2"))

	var b2Calls int
	for _, call := range sub.snapshot() {
		if call.broadcasterID == "b2" {
			b2Calls++
		}
	}
	assert.Equal(t, 1, b2Calls)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop")
	}
	done <- nil
	assert.Equal(t, StateClosed, b1.State())
}
