package twitch

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs one Session per broadcaster. Sessions fail and reconnect
// independently; only cancelling the shared context stops them all.
type Supervisor struct {
	sessions map[string]*Session
}

// NewSupervisor builds a session per broadcaster from a template config.
func NewSupervisor(broadcasterIDs []string, template SessionConfig) *Supervisor {
	sessions := make(map[string]*Session, len(broadcasterIDs))
	for _, id := range broadcasterIDs {
		cfg := template
		cfg.BroadcasterID = id
		sessions[id] = NewSession(cfg)
	}
	return &Supervisor{sessions: sessions}
}

func (s *Supervisor) Run(ctx context.Context) error {
	var g errgroup.Group
	for id, session := range s.sessions {
		g.Go(func() error {
			slog.Info("Starting EventSub session", "broadcaster_id", id)
			err := session.Run(ctx)
			slog.Info("EventSub session stopped", "broadcaster_id", id, "error", err)
			return err
		})
	}
	return g.Wait()
}

// States reports each broadcaster's connection state.
func (s *Supervisor) States() map[string]State {
	states := make(map[string]State, len(s.sessions))
	for id, session := range s.sessions {
		states[id] = session.State()
	}
	return states
}

func (s *Supervisor) BroadcasterIDs() []string {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
