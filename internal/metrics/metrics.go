package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Metrics
var (
	// RedisOpsTotal tracks Redis operations by operation and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Ingestion Metrics
var (
	// IngestFramesTotal counts EventSub frames by message type
	IngestFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_frames_total",
			Help: "EventSub frames received by message type",
		},
		[]string{"message_type"},
	)

	// IngestNotificationsTotal counts notifications by subscription type and outcome
	// (applied, no_effect, duplicate, stale, malformed)
	IngestNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_notifications_total",
			Help: "Notifications by subscription type and outcome",
		},
		[]string{"type", "outcome"},
	)

	IngestDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dropped_total",
			Help: "Notifications dropped because the ingest queue was full",
		},
	)

	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Pending notifications per broadcaster queue",
		},
		[]string{"broadcaster_id"},
	)

	// IngestReconnectsTotal counts reconnects by reason (error, keepalive, migrate)
	IngestReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_reconnects_total",
			Help: "EventSub reconnects by reason",
		},
		[]string{"reason"},
	)

	IngestSessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_session_state",
			Help: "Current EventSub session state per broadcaster (0=connecting, 1=welcomed, 2=subscribing, 3=live, 4=reconnecting, 5=closed)",
		},
		[]string{"broadcaster_id"},
	)

	SubscriptionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_subscription_requests_total",
			Help: "EventSub subscription requests by type and result",
		},
		[]string{"type", "result"},
	)

	RevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_revocations_total",
			Help: "EventSub subscription revocations by type",
		},
		[]string{"type"},
	)
)

// Timer Metrics
var (
	// TimerSecondsAppliedTotal sums seconds added by attribution
	TimerSecondsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timer_seconds_applied_total",
			Help: "Seconds added to timers by attribution",
		},
		[]string{"attribution"},
	)

	TimerSecondsClampedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timer_seconds_clamped_total",
			Help: "Seconds discarded by the cap",
		},
	)

	TimerCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timer_commands_total",
			Help: "Administrative timer commands by command",
		},
		[]string{"command"},
	)

	SnapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timer_snapshot_writes_total",
			Help: "Durable snapshot writes by result",
		},
		[]string{"result"},
	)
)

// Broadcaster Metrics
var (
	BroadcasterActiveTenants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_active_tenants",
			Help: "Tenants with at least one subscriber",
		},
	)

	BroadcasterConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients",
			Help: "Connected subscriber sockets across all tenants",
		},
	)

	BroadcasterMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_messages_total",
			Help: "Messages fanned out by kind",
		},
		[]string{"kind"},
	)

	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Subscribers dropped because their send buffer was full",
		},
	)

	BroadcasterRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_rejected_clients_total",
			Help: "Subscribers rejected by the per-tenant limit",
		},
	)

	// BridgePushesTotal counts viewer-panel pushes by result
	// (sent, rate_limited, queue_full, circuit_open, error)
	BridgePushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_pushes_total",
			Help: "Viewer-panel bridge pushes by result",
		},
		[]string{"result"},
	)
)

// WebSocket Metrics
var (
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Subscriber connection attempts by result",
		},
		[]string{"result"},
	)

	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "Subscriber connection lifetime in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)

	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time to write one message to a subscriber socket",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Failed ping writes to subscriber sockets",
		},
	)
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// HTTPErrorsTotal counts error responses by error type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP error responses by error type",
		},
		[]string{"type"},
	)
)

// Database Metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "PostgreSQL query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	DBConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_connections_current",
			Help: "Current PostgreSQL pool connections by state",
		},
		[]string{"state"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "PostgreSQL query errors by query name",
		},
		[]string{"query"},
	)
)
