package domain

import "time"

// TimerSnapshot is a copy of one tenant's timer state, taken under the tenant lock.
// It is what gets published, persisted and returned to administrators.
type TimerSnapshot struct {
	TenantID string `json:"tenant_id"`

	Paused bool `json:"paused"`
	// ExpiresAt is authoritative while running, RemainingAtPause while paused.
	ExpiresAt        time.Time     `json:"expires_at,omitzero"`
	RemainingAtPause time.Duration `json:"remaining_at_pause_ns"`
	Remaining        time.Duration `json:"remaining_ns"`

	HypeActive bool `json:"hype_active"`
	// BonusActive is the administrator toggle; the bonus only applies inside BonusWindow.
	BonusActive bool        `json:"bonus_active"`
	BonusWindow BonusWindow `json:"bonus_window"`

	InitialSeconds  int64 `json:"initial_seconds"`
	AdditionsTotal  int64 `json:"additions_total"`
	MaxTotalSeconds int64 `json:"max_total_seconds"`
	CapForced       bool  `json:"cap_forced"`

	TakenAt time.Time `json:"taken_at"`
	// Seq grows with every mutation of the tenant. A higher Seq is a newer state.
	Seq     uint64    `json:"seq"`
}

// RemainingSeconds floors the remaining time to whole seconds.
func (s TimerSnapshot) RemainingSeconds() int64 {
	return int64(s.Remaining / time.Second)
}

// Modifiers returns the multipliers in effect at the snapshot's instant.
func (s TimerSnapshot) Modifiers() Modifiers {
	return Modifiers{
		HypeActive:  s.HypeActive,
		BonusActive: s.BonusActive && s.BonusWindow.Contains(s.TakenAt),
	}
}

// CapReached reports whether no further automatic additions can apply.
func (s TimerSnapshot) CapReached() bool {
	return s.MaxTotalSeconds > 0 && !s.CapForced && s.InitialSeconds+s.AdditionsTotal >= s.MaxTotalSeconds
}

// Tick is the compact state message pushed to subscribers and the viewer-panel bridge.
type Tick struct {
	Remaining  int64  `json:"remaining"`
	Hype       bool   `json:"hype"`
	Bonus      bool   `json:"bonus"`
	Paused     bool   `json:"paused"`
	CapReached bool   `json:"capReached"`
	Seq        uint64 `json:"seq"`
}

func (s TimerSnapshot) Tick() Tick {
	return Tick{
		Remaining:  s.RemainingSeconds(),
		Hype:       s.HypeActive,
		Bonus:      s.Modifiers().BonusActive,
		Paused:     s.Paused,
		CapReached: s.CapReached(),
		Seq:        s.Seq,
	}
}

// ApplyResult reports what a delta actually did. Clamping is a result, not an error.
type ApplyResult struct {
	Requested int64         `json:"requested"`
	Applied   int64         `json:"applied"`
	Clamped   bool          `json:"clamped"`
	Snapshot  TimerSnapshot `json:"-"`
}

// ClampedSeconds is the part of the request the cap swallowed.
func (r ApplyResult) ClampedSeconds() int64 {
	return r.Requested - r.Applied
}
