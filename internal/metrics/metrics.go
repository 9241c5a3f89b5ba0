package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	SessionsRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_sessions_registered_total",
			Help: "Total sessions registered",
		},
		[]string{"role"}, // "parent" or "child"
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_messages_routed_total",
			Help: "Total messages routed",
		},
		[]string{"outcome"}, // "delivered", "warned", "blocked", "duplicate", "rejected"
	)

	SafetyVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_safety_verdicts_total",
			Help: "Total classifier verdicts",
		},
		[]string{"action"},
	)

	SafetyLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beechat_safety_log_failures_total",
			Help: "Safety log writes that failed after a delivery decision",
		},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_location_updates_total",
			Help: "Total location updates",
		},
		[]string{"result"}, // "recorded" or "rejected"
	)

	CompanionReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_companion_replies_total",
			Help: "Companion replies by fate",
		},
		[]string{"result"}, // "sent", "cancelled", "filtered"
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beechat_ws_connections",
			Help: "Open realtime connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beechat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beechat_database_latency_seconds",
			Help:    "SQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"driver"}, // "postgres" or "sqlite"
	)
)
