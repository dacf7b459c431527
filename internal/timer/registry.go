package timer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
)

type entry struct {
	mu    sync.Mutex
	state *state
}

// Registry owns every tenant's timer. Entries are created lazily on first
// reference and never removed.
type Registry struct {
	clock   clockwork.Clock
	entries sync.Map // tenant id -> *entry
}

func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{clock: clock}
}

func (r *Registry) entry(tenantID string) *entry {
	if e, ok := r.entries.Load(tenantID); ok {
		return e.(*entry)
	}
	e, _ := r.entries.LoadOrStore(tenantID, &entry{state: newState(tenantID)})
	return e.(*entry)
}

// with runs fn under the tenant's lock and returns the post-mutation snapshot.
func (r *Registry) with(tenantID string, fn func(s *state, now time.Time)) domain.TimerSnapshot {
	e := r.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.clock.Now()
	fn(e.state, now)
	return e.state.snapshot(now)
}

// Apply adds delta seconds, clamped to the remaining cap budget. A
// non-positive delta or an exhausted budget leaves the state untouched.
func (r *Registry) Apply(tenantID string, delta int64) domain.ApplyResult {
	return r.ApplyWith(tenantID, func(domain.Modifiers) int64 { return delta })
}

// ApplyWith computes the delta from the modifiers in effect and applies it,
// both under the same lock, so a concurrent hype toggle cannot interleave.
func (r *Registry) ApplyWith(tenantID string, deltaFn func(mods domain.Modifiers) int64) domain.ApplyResult {
	var result domain.ApplyResult
	snap := r.with(tenantID, func(s *state, now time.Time) {
		result = s.apply(now, deltaFn(s.modifiers(now)))
	})
	result.Snapshot = snap
	return result
}

func (r *Registry) Start(tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	if seconds < 0 {
		return domain.TimerSnapshot{}, fmt.Errorf("start %d: %w", seconds, domain.ErrInvalidSeconds)
	}
	return r.with(tenantID, func(s *state, now time.Time) { s.start(now, seconds) }), nil
}

// Subtract removes time, flooring remaining at zero. Totals are not touched.
func (r *Registry) Subtract(tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	if seconds < 0 {
		return domain.TimerSnapshot{}, fmt.Errorf("subtract %d: %w", seconds, domain.ErrInvalidSeconds)
	}
	return r.with(tenantID, func(s *state, now time.Time) {
		if seconds > 0 {
			s.shorten(now, time.Duration(seconds)*time.Second)
			s.mutations++
		}
	}), nil
}

func (r *Registry) Pause(tenantID string) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, now time.Time) { s.pause(now) })
}

func (r *Registry) Resume(tenantID string) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, now time.Time) { s.resume(now) })
}

// Clear resets the countdown and totals. Cap and modifiers are kept.
func (r *Registry) Clear(tenantID string) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, _ time.Time) { s.clear() })
}

// SetCap sets the total-seconds ceiling; zero removes it. Lowering the cap
// below what is already used corrects the state before returning.
func (r *Registry) SetCap(tenantID string, seconds int64) (domain.TimerSnapshot, error) {
	if seconds < 0 {
		return domain.TimerSnapshot{}, fmt.Errorf("cap %d: %w", seconds, domain.ErrInvalidSeconds)
	}
	return r.with(tenantID, func(s *state, now time.Time) {
		s.maxTotalSeconds = seconds
		s.enforceCap(now)
		s.mutations++
	}), nil
}

// ForceCap with true lets additions bypass the cap. Switching it back off
// enforces the cap immediately.
func (r *Registry) ForceCap(tenantID string, forced bool) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, now time.Time) {
		s.capForced = forced
		s.enforceCap(now)
		s.mutations++
	})
}

func (r *Registry) SetHype(tenantID string, active bool) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, _ time.Time) {
		s.hypeActive = active
		s.mutations++
	})
}

// SetBonusWindow activates the bonus multiplier inside [start, end). A nil
// bound is open.
func (r *Registry) SetBonusWindow(tenantID string, window domain.BonusWindow) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, _ time.Time) {
		s.bonusActive = true
		s.bonusWindow = copyWindow(window)
		s.mutations++
	})
}

func (r *Registry) SetBonus(tenantID string, active bool) domain.TimerSnapshot {
	return r.with(tenantID, func(s *state, _ time.Time) {
		s.bonusActive = active
		s.mutations++
	})
}

func (r *Registry) Snapshot(tenantID string) domain.TimerSnapshot {
	return r.with(tenantID, func(*state, time.Time) {})
}

// Restore loads a persisted snapshot into a tenant that has not been mutated
// yet. It reports whether the snapshot was applied.
func (r *Registry) Restore(snap domain.TimerSnapshot) bool {
	e := r.entry(snap.TenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.mutations > 0 {
		return false
	}
	e.state.restore(snap)
	e.state.mutations = snap.Seq + 1
	return true
}

// Tenants lists the ids of every tenant referenced so far, sorted.
func (r *Registry) Tenants() []string {
	var ids []string
	r.entries.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}
