package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/subathon/internal/domain"
)

type fakeSnapshotStore struct {
	mu      sync.Mutex
	saved   map[string]domain.TimerSnapshot
	loads   atomic.Int32
	loadErr error
	saveErr error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{saved: make(map[string]domain.TimerSnapshot)}
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, snap domain.TimerSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[snap.TenantID] = snap
	return nil
}

func (f *fakeSnapshotStore) LoadSnapshot(_ context.Context, tenantID string) (*domain.TimerSnapshot, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	snap, ok := f.saved[tenantID]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return &snap, nil
}

func (f *fakeSnapshotStore) get(tenantID string) (domain.TimerSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.saved[tenantID]
	return snap, ok
}

type fakeRulesStore struct {
	mu      sync.Mutex
	rules   map[string]domain.RuleConfig
	saveErr error
}

func newFakeRulesStore() *fakeRulesStore {
	return &fakeRulesStore{rules: make(map[string]domain.RuleConfig)}
}

func (f *fakeRulesStore) SaveRules(_ context.Context, tenantID string, cfg domain.RuleConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.rules[tenantID] = cfg
	return nil
}

func (f *fakeRulesStore) LoadRules(_ context.Context, tenantID string) (*domain.RuleConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.rules[tenantID]
	if !ok {
		return nil, domain.ErrRulesNotFound
	}
	return &cfg, nil
}

type published struct {
	tenant  string
	kind    domain.PublishKind
	payload any
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	states   []domain.TimerSnapshot
	active   []string
}

func (p *recordingPublisher) Publish(tenantKey string, kind domain.PublishKind, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{tenantKey, kind, payload})
}

func (p *recordingPublisher) PublishState(_ string, snap domain.TimerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, snap)
}

func (p *recordingPublisher) ActiveTenants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.active...)
}

func (p *recordingPublisher) ofKind(kind domain.PublishKind) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) lastState() (domain.TimerSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return domain.TimerSnapshot{}, false
	}
	return p.states[len(p.states)-1], true
}

type failingGuard struct{ err error }

func (g failingGuard) Seen(context.Context, string, string) (bool, error) { return false, g.err }
func (g failingGuard) Remember(context.Context, string, string) error     { return g.err }
func (g failingGuard) Claim(context.Context, string, string) (bool, error) {
	return false, g.err
}
