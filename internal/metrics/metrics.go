package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmesh_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_intents_total",
			Help: "Total intent operations",
		},
		[]string{"op"}, // "create", "approve", "reject"
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_messages_stored_total",
			Help: "Total messages persisted",
		},
		[]string{"chat_type"}, // "direct" or "group"
	)

	MemberDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_member_deltas_total",
			Help: "Total membership deltas applied",
		},
		[]string{"shape"}, // "auto_join", "auto_leave", "admin"
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_rule_evaluations_total",
			Help: "Total rule-tree evaluations",
		},
		[]string{"outcome"}, // "allow" or "deny"
	)

	ProofFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wmesh_proof_failures_total",
			Help: "Total rejected verification proofs",
		},
	)

	FanoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_fanout_events_total",
			Help: "Total fan-out events delivered",
		},
		[]string{"kind"},
	)

	NotificationsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wmesh_notifications_published_total",
			Help: "Total notification records published",
		},
	)

	PresenceConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wmesh_presence_connections",
			Help: "Live websocket connections",
		},
	)

	SpacesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wmesh_spaces_swept_total",
			Help: "Total expired spaces deleted by the sweep",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmesh_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmesh_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmesh_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
