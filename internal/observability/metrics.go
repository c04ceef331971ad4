package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failing Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_redis_errors_total",
		Help: "Total number of failed Redis commands",
	}, []string{"command"})

	// CacheErrors counts listing cache failures by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_cache_errors_total",
		Help: "Total number of listing cache errors by operation",
	}, []string{"operation"})

	// CacheLookups counts listing cache lookups by result (hit or miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_cache_lookups_total",
		Help: "Total number of anonymous listing cache lookups",
	}, []string{"result"})

	// DegradedOperations counts best-effort operations that failed and were skipped.
	DegradedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_degraded_operations_total",
		Help: "Total number of best-effort operations that failed",
	}, []string{"component", "operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadboard_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnections is the gauge of active push channel connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadboard_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// BroadcastEvents counts comment events handed to subscribers by type.
	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_broadcast_events_total",
		Help: "Total number of comment events broadcast",
	}, []string{"type"})

	// TaskJobs counts background jobs by task name and outcome.
	TaskJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadboard_task_jobs_total",
		Help: "Total number of background jobs by outcome",
	}, []string{"task", "outcome"})

	// TaskQueueDepth is the number of jobs waiting for a worker.
	TaskQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadboard_task_queue_depth",
		Help: "Number of background jobs waiting for a worker",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
