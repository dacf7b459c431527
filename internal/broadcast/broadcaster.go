package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/metrics"
)

const (
	bridgeQueueSize = 64
	bridgeTimeout   = 5 * time.Second
)

// Message is the frame written to subscriber sockets.
type Message struct {
	Kind      domain.PublishKind `json:"kind"`
	Payload   any                `json:"payload"`
	Timestamp int64              `json:"ts"`
}

// Subscriber is one open subscriber socket and the tenant it belongs to.
type Subscriber struct {
	ID        uuid.UUID
	TenantKey string
	JoinedAt  time.Time
	kinds     map[domain.PublishKind]struct{}
	writer    *clientWriter
}

// Wants reports whether the subscriber asked for kind. An empty filter wants everything.
func (s *Subscriber) Wants(kind domain.PublishKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

type tenantRegistry struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*Subscriber
	// closed is set once the registry is unlinked from the tenant map.
	closed bool
}

type bridgeJob struct {
	tenantID string
	msg      domain.BridgeMessage
}

// Broadcaster is a tenant-partitioned subscriber registry.
type Broadcaster struct {
	clock        clockwork.Clock
	maxPerTenant int

	mu      sync.RWMutex
	tenants map[string]*tenantRegistry

	// stateSeq is the highest snapshot Seq published per tenant.
	seqMu    sync.Mutex
	stateSeq map[string]uint64

	bridge   domain.Bridge
	bridgeCh chan bridgeJob
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewBroadcaster creates a broadcaster. bridge may be nil, in which case
// state changes only reach subscriber sockets.
func NewBroadcaster(clock clockwork.Clock, maxPerTenant int, bridge domain.Bridge) *Broadcaster {
	b := &Broadcaster{
		clock:        clock,
		maxPerTenant: maxPerTenant,
		tenants:      make(map[string]*tenantRegistry),
		stateSeq:     make(map[string]uint64),
		bridge:       bridge,
		done:         make(chan struct{}),
	}
	if bridge != nil {
		b.bridgeCh = make(chan bridgeJob, bridgeQueueSize)
		b.wg.Add(1)
		go b.runBridge()
	}
	return b
}

// Register adds conn as a subscriber of tenantKey. An empty kinds slice
// subscribes to every kind.
func (b *Broadcaster) Register(tenantKey string, conn Conn, kinds []domain.PublishKind) (*Subscriber, error) {
	select {
	case <-b.done:
		return nil, fmt.Errorf("broadcaster stopped")
	default:
	}

	reg := b.registry(tenantKey, true)
	reg.mu.Lock()
	for reg.closed {
		// lost a race with pruneIfEmpty; retry on the fresh registry
		reg.mu.Unlock()
		reg = b.registry(tenantKey, true)
		reg.mu.Lock()
	}
	defer reg.mu.Unlock()

	if b.maxPerTenant > 0 && len(reg.clients) >= b.maxPerTenant {
		metrics.BroadcasterRejectedTotal.Inc()
		slog.Warn("Rejecting subscriber: max clients reached", "broadcaster_id", tenantKey, "max_clients", b.maxPerTenant)
		return nil, fmt.Errorf("%w: limit %d", domain.ErrTooManyClients, b.maxPerTenant)
	}

	sub := &Subscriber{
		ID:        uuid.New(),
		TenantKey: tenantKey,
		JoinedAt:  b.clock.Now(),
		kinds:     make(map[domain.PublishKind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}
	sub.writer = newClientWriter(conn, b.clock, func() { b.Unregister(sub) })
	reg.clients[sub.ID] = sub

	metrics.BroadcasterConnectedClients.Inc()
	slog.Debug("Subscriber registered", "broadcaster_id", tenantKey, "subscriber_id", sub.ID.String(), "total_clients", len(reg.clients))
	return sub, nil
}

// Unregister removes sub and closes its socket. Calling it twice is harmless.
func (b *Broadcaster) Unregister(sub *Subscriber) {
	reg := b.registry(sub.TenantKey, false)
	if reg == nil {
		return
	}

	reg.mu.Lock()
	_, ok := reg.clients[sub.ID]
	delete(reg.clients, sub.ID)
	remaining := len(reg.clients)
	reg.mu.Unlock()

	if !ok {
		return
	}

	sub.writer.stop()
	metrics.BroadcasterConnectedClients.Dec()
	metrics.WebSocketConnectionDuration.Observe(b.clock.Since(sub.JoinedAt).Seconds())

	if remaining == 0 {
		b.pruneIfEmpty(sub.TenantKey)
		slog.Info("Last subscriber disconnected", "broadcaster_id", sub.TenantKey)
	}
}

// Publish fans payload out to the tenant's subscribers that want kind.
// Subscribers whose buffer is full are evicted.
func (b *Broadcaster) Publish(tenantKey string, kind domain.PublishKind, payload any) {
	reg := b.registry(tenantKey, false)
	if reg == nil {
		return
	}

	data, err := b.encode(kind, payload)
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "broadcaster_id", tenantKey, "kind", kind, "error", err)
		return
	}

	reg.mu.Lock()
	targets := make([]*Subscriber, 0, len(reg.clients))
	for _, sub := range reg.clients {
		if sub.Wants(kind) {
			targets = append(targets, sub)
		}
	}
	reg.mu.Unlock()

	var slow []*Subscriber
	for _, sub := range targets {
		if !sub.writer.enqueue(data) {
			slow = append(slow, sub)
		}
	}
	metrics.BroadcasterMessagesTotal.WithLabelValues(string(kind)).Inc()

	for _, sub := range slow {
		slog.Warn("Disconnecting slow subscriber", "broadcaster_id", tenantKey, "subscriber_id", sub.ID.String())
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.Unregister(sub)
	}
}

// PublishState sends the state tick to subscribers and queues one push to
// the viewer-panel bridge. It never blocks on the bridge. A snapshot older
// than one already published for the tenant is dropped.
func (b *Broadcaster) PublishState(tenantKey string, snapshot domain.TimerSnapshot) {
	if !b.advanceSeq(tenantKey, snapshot.Seq) {
		slog.Debug("Dropping stale state", "broadcaster_id", tenantKey, "seq", snapshot.Seq)
		return
	}

	tick := snapshot.Tick()
	b.Publish(tenantKey, domain.KindTick, tick)

	if b.bridgeCh == nil {
		return
	}
	job := bridgeJob{
		tenantID: tenantKey,
		msg: domain.BridgeMessage{
			Type:      string(domain.KindTick),
			Payload:   tick,
			Timestamp: snapshot.TakenAt.UnixMilli(),
		},
	}
	select {
	case b.bridgeCh <- job:
	default:
		metrics.BridgePushesTotal.WithLabelValues("queue_full").Inc()
		slog.Warn("Bridge queue full, dropping push", "broadcaster_id", tenantKey)
	}
}

// Send writes one message to a single subscriber, used for the join snapshot.
func (b *Broadcaster) Send(sub *Subscriber, kind domain.PublishKind, payload any) bool {
	if !sub.Wants(kind) {
		return false
	}
	data, err := b.encode(kind, payload)
	if err != nil {
		return false
	}
	return sub.writer.enqueue(data)
}

// ClientCount returns the number of subscribers for a tenant.
func (b *Broadcaster) ClientCount(tenantKey string) int {
	reg := b.registry(tenantKey, false)
	if reg == nil {
		return 0
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.clients)
}

// ActiveTenants lists tenants with at least one subscriber.
func (b *Broadcaster) ActiveTenants() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.tenants))
	for key := range b.tenants {
		keys = append(keys, key)
	}
	return keys
}

// Stop closes every subscriber with a close frame and drains the bridge worker.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		tenants := b.tenants
		b.tenants = make(map[string]*tenantRegistry)
		metrics.BroadcasterActiveTenants.Set(0)
		b.mu.Unlock()

		total := 0
		for _, reg := range tenants {
			reg.mu.Lock()
			reg.closed = true
			for id, sub := range reg.clients {
				sub.writer.stopGraceful("Server shutting down")
				delete(reg.clients, id)
				metrics.BroadcasterConnectedClients.Dec()
				total++
			}
			reg.mu.Unlock()
		}

		b.wg.Wait()
		slog.Info("Broadcaster shutdown complete", "disconnected_clients", total)
	})
}

func (b *Broadcaster) registry(tenantKey string, create bool) *tenantRegistry {
	b.mu.RLock()
	reg, ok := b.tenants[tenantKey]
	b.mu.RUnlock()
	if ok || !create {
		return reg
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok = b.tenants[tenantKey]; ok {
		return reg
	}
	reg = &tenantRegistry{clients: make(map[uuid.UUID]*Subscriber)}
	b.tenants[tenantKey] = reg
	metrics.BroadcasterActiveTenants.Set(float64(len(b.tenants)))
	return reg
}

func (b *Broadcaster) pruneIfEmpty(tenantKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.tenants[tenantKey]
	if !ok {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	empty := len(reg.clients) == 0

	if empty {
		reg.closed = true
		delete(b.tenants, tenantKey)
		metrics.BroadcasterActiveTenants.Set(float64(len(b.tenants)))
	}
}

func (b *Broadcaster) advanceSeq(tenantKey string, seq uint64) bool {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	if last, ok := b.stateSeq[tenantKey]; ok && seq < last {
		return false
	}
	b.stateSeq[tenantKey] = seq
	return true
}

func (b *Broadcaster) encode(kind domain.PublishKind, payload any) ([]byte, error) {
	return json.Marshal(Message{Kind: kind, Payload: payload, Timestamp: b.clock.Now().UnixMilli()})
}

func (b *Broadcaster) runBridge() {
	defer b.wg.Done()

	for {
		select {
		case job := <-b.bridgeCh:
			ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
			if err := b.bridge.Push(ctx, job.tenantID, job.msg); err != nil {
				slog.Debug("Bridge push failed", "broadcaster_id", job.tenantID, "error", err)
			}
			cancel()
		case <-b.done:
			return
		}
	}
}

// ParseKinds parses a comma-separated kind filter such as "tick,status".
func ParseKinds(raw string) ([]domain.PublishKind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var kinds []domain.PublishKind
	for _, part := range strings.Split(raw, ",") {
		kind := domain.PublishKind(strings.TrimSpace(part))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", kind)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
