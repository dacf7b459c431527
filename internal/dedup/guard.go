// Package dedup rejects redelivered upstream notifications.
package dedup

import (
	"context"
	"sync"
)

const DefaultCapacity = 1024

// Guard remembers the most recent source ids per tenant in a fixed-capacity
// FIFO ring. Tenants are partitioned so unrelated tenants never share a lock.
type Guard struct {
	capacity   int
	partitions sync.Map // tenant id -> *ring
}

func NewGuard(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{capacity: capacity}
}

func (g *Guard) ring(tenantID string) *ring {
	if r, ok := g.partitions.Load(tenantID); ok {
		return r.(*ring)
	}
	r, _ := g.partitions.LoadOrStore(tenantID, newRing(g.capacity))
	return r.(*ring)
}

func (g *Guard) Seen(_ context.Context, tenantID, sourceID string) (bool, error) {
	return g.ring(tenantID).contains(sourceID), nil
}

func (g *Guard) Remember(_ context.Context, tenantID, sourceID string) error {
	g.ring(tenantID).add(sourceID)
	return nil
}

// Claim remembers sourceID and reports true if it was not seen before.
func (g *Guard) Claim(_ context.Context, tenantID, sourceID string) (bool, error) {
	return g.ring(tenantID).add(sourceID), nil
}

type ring struct {
	mu   sync.Mutex
	ids  []string
	set  map[string]struct{}
	next int
}

func newRing(capacity int) *ring {
	return &ring{
		ids: make([]string, 0, capacity),
		set: make(map[string]struct{}, capacity),
	}
}

func (r *ring) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}

// add inserts id, evicting the oldest entry when full. It returns false if
// id was already present.
func (r *ring) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return false
	}

	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
	return true
}
