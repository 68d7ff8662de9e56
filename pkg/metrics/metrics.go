package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shop-floor services.
// Using promauto for automatic registration with default registry.
var (
	// --- Queue Metrics ---

	// JobsEnqueued counts jobs accepted into the queue by type.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued by type",
		},
		[]string{"type"},
	)

	// JobsClaimed counts successful claims by worker.
	JobsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed by worker",
		},
		[]string{"worker"},
	)

	// JobsCompleted counts dispatch outcomes by type and outcome.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "jobs_completed_total",
			Help:      "Total number of finished job dispatches by outcome",
		},
		[]string{"type", "outcome"},
	)

	// JobRetries counts requeues after handler failure.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "job_retries_total",
			Help:      "Total number of jobs requeued with backoff",
		},
		[]string{"type"},
	)

	// JobsDeadLettered counts jobs that exhausted their attempts.
	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "jobs_dead_lettered_total",
			Help:      "Total number of jobs marked terminally failed",
		},
		[]string{"type"},
	)

	// QueueDepth tracks jobs currently due for claiming.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "pending_jobs",
			Help:      "Number of jobs due for claiming",
		},
	)

	// JobDuration tracks handler duration by type and outcome.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of job handler invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~3.4m
		},
		[]string{"type", "outcome"},
	)

	// StaleJobsReaped counts running jobs recovered from dead workers.
	StaleJobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "queue",
			Name:      "stale_jobs_reaped_total",
			Help:      "Total number of stale running jobs requeued",
		},
	)

	// --- Solver Metrics ---

	// SolverRuns counts schedule solves by outcome status.
	SolverRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "solver",
			Name:      "runs_total",
			Help:      "Total number of schedule solves by status",
		},
		[]string{"status"},
	)

	// SolverWallTime tracks solver wall-clock time.
	SolverWallTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shopfloor",
			Subsystem: "solver",
			Name:      "wall_time_seconds",
			Help:      "Wall-clock time of schedule solves in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7m
		},
	)

	// SolverTasks tracks the number of tasks per solved run.
	SolverTasks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shopfloor",
			Subsystem: "solver",
			Name:      "tasks_per_run",
			Help:      "Number of tasks placed per schedule run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		},
	)

	// --- Cluster Metrics ---

	// ActiveWorkers tracks the number of live worker nodes.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shopfloor",
			Subsystem: "cluster",
			Name:      "active_workers",
			Help:      "Number of worker nodes with a live heartbeat",
		},
	)

	// HeartbeatsSent counts heartbeats sent by this worker.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// --- HTTP Metrics ---

	// HTTPRequests counts requests by method, path and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopfloor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shopfloor",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordDispatch records metrics for one finished job dispatch.
func RecordDispatch(jobType, outcome string, durationSeconds float64) {
	JobsCompleted.WithLabelValues(jobType, outcome).Inc()
	JobDuration.WithLabelValues(jobType, outcome).Observe(durationSeconds)
}

// RecordSolve records metrics for one solver invocation.
func RecordSolve(status string, wallSeconds float64, taskCount int) {
	SolverRuns.WithLabelValues(status).Inc()
	SolverWallTime.Observe(wallSeconds)
	SolverTasks.Observe(float64(taskCount))
}
