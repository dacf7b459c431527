package timer

import (
	"time"

	"github.com/pscheid92/subathon/internal/domain"
)

// phase is exactly one of running or paused.
type phase interface {
	remaining(now time.Time) time.Duration
	isPaused() bool
}

type running struct {
	expiry time.Time
}

func (r running) remaining(now time.Time) time.Duration {
	return max(0, r.expiry.Sub(now))
}

func (running) isPaused() bool { return false }

type paused struct {
	left time.Duration
}

func (p paused) remaining(time.Time) time.Duration {
	return max(0, p.left)
}

func (paused) isPaused() bool { return true }

// state is one tenant's timer. Callers must hold the owning entry's mutex.
type state struct {
	tenantID string
	phase    phase

	hypeActive  bool
	bonusActive bool
	bonusWindow domain.BonusWindow

	initialSeconds  int64
	additionsTotal  int64
	maxTotalSeconds int64
	capForced       bool

	// mutations counts changes; a restore only lands on an untouched state.
	mutations uint64
}

func newState(tenantID string) *state {
	return &state{tenantID: tenantID, phase: paused{}}
}

func (s *state) capActive() bool {
	return s.maxTotalSeconds > 0 && !s.capForced
}

func (s *state) used() int64 {
	return s.initialSeconds + s.additionsTotal
}

// budget is the number of seconds that may still be added, or -1 when unbounded.
func (s *state) budget() int64 {
	if !s.capActive() {
		return -1
	}
	return max(0, s.maxTotalSeconds-s.used())
}

func (s *state) apply(now time.Time, delta int64) domain.ApplyResult {
	result := domain.ApplyResult{Requested: delta}
	if delta <= 0 {
		return result
	}

	applied := delta
	if b := s.budget(); b >= 0 && applied > b {
		applied = b
		result.Clamped = true
	}
	if applied == 0 {
		return result
	}

	s.extend(now, time.Duration(applied)*time.Second)
	s.additionsTotal += applied
	s.mutations++
	result.Applied = applied
	return result
}

func (s *state) extend(now time.Time, d time.Duration) {
	switch p := s.phase.(type) {
	case running:
		base := p.expiry
		if base.Before(now) {
			base = now
		}
		s.phase = running{expiry: base.Add(d)}
	case paused:
		s.phase = paused{left: p.left + d}
	}
}

func (s *state) shorten(now time.Time, d time.Duration) {
	switch p := s.phase.(type) {
	case running:
		expiry := p.expiry.Add(-d)
		if expiry.Before(now) {
			expiry = now
		}
		s.phase = running{expiry: expiry}
	case paused:
		s.phase = paused{left: max(0, p.left-d)}
	}
}

func (s *state) start(now time.Time, seconds int64) {
	if s.capActive() {
		seconds = min(seconds, s.maxTotalSeconds)
	}
	s.initialSeconds = seconds
	s.additionsTotal = 0
	s.phase = running{expiry: now.Add(time.Duration(seconds) * time.Second)}
	s.mutations++
}

func (s *state) pause(now time.Time) {
	if r, ok := s.phase.(running); ok {
		s.phase = paused{left: r.remaining(now)}
		s.mutations++
	}
}

func (s *state) resume(now time.Time) {
	if p, ok := s.phase.(paused); ok {
		s.phase = running{expiry: now.Add(p.left)}
		s.mutations++
	}
}

func (s *state) clear() {
	s.phase = paused{}
	s.initialSeconds = 0
	s.additionsTotal = 0
	s.mutations++
}

// enforceCap pulls an overdrawn state back under the cap: remaining is
// clamped to the cap and the totals are rewritten to sum to it.
func (s *state) enforceCap(now time.Time) {
	if !s.capActive() || s.used() <= s.maxTotalSeconds {
		return
	}

	limit := time.Duration(s.maxTotalSeconds) * time.Second
	if s.phase.remaining(now) > limit {
		switch s.phase.(type) {
		case running:
			s.phase = running{expiry: now.Add(limit)}
		case paused:
			s.phase = paused{left: limit}
		}
	}
	s.initialSeconds = min(s.initialSeconds, s.maxTotalSeconds)
	s.additionsTotal = max(0, s.maxTotalSeconds-s.initialSeconds)
}

func (s *state) modifiers(now time.Time) domain.Modifiers {
	return domain.Modifiers{
		HypeActive:  s.hypeActive,
		BonusActive: s.bonusActive && s.bonusWindow.Contains(now),
	}
}

func (s *state) snapshot(now time.Time) domain.TimerSnapshot {
	snap := domain.TimerSnapshot{
		TenantID:        s.tenantID,
		Paused:          s.phase.isPaused(),
		Remaining:       s.phase.remaining(now),
		HypeActive:      s.hypeActive,
		BonusActive:     s.bonusActive,
		BonusWindow:     copyWindow(s.bonusWindow),
		InitialSeconds:  s.initialSeconds,
		AdditionsTotal:  s.additionsTotal,
		MaxTotalSeconds: s.maxTotalSeconds,
		CapForced:       s.capForced,
		TakenAt:         now,
		Seq:             s.mutations,
	}
	switch p := s.phase.(type) {
	case running:
		snap.ExpiresAt = p.expiry
	case paused:
		snap.RemainingAtPause = p.left
	}
	return snap
}

func (s *state) restore(snap domain.TimerSnapshot) {
	if snap.Paused {
		s.phase = paused{left: max(0, snap.RemainingAtPause)}
	} else {
		s.phase = running{expiry: snap.ExpiresAt}
	}
	s.hypeActive = snap.HypeActive
	s.bonusActive = snap.BonusActive
	s.bonusWindow = copyWindow(snap.BonusWindow)
	s.initialSeconds = snap.InitialSeconds
	s.additionsTotal = snap.AdditionsTotal
	s.maxTotalSeconds = snap.MaxTotalSeconds
	s.capForced = snap.CapForced
}

func copyWindow(w domain.BonusWindow) domain.BonusWindow {
	var out domain.BonusWindow
	if w.Start != nil {
		start := *w.Start
		out.Start = &start
	}
	if w.End != nil {
		end := *w.End
		out.End = &end
	}
	return out
}
