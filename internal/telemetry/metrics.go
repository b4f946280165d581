package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики dispatch worker.
var (
	// JobsProcessed — обработанные jobs по итоговому статусу
	// (sent, failed, rate_limited, auth_error, retry, dropped).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_jobs_processed_total",
		Help: "Processed jobs by outcome status.",
	}, []string{"status"})

	// JobDuration — время обработки одного job, включая вызов провайдера.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_job_duration_seconds",
		Help:    "Job processing duration.",
		Buckets: prometheus.DefBuckets,
	})

	// CircuitOpened — сколько раз circuit переходил в open.
	CircuitOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_circuit_open_total",
		Help: "Circuit breaker transitions to open.",
	})
)

// Метрики планировщиков.
var (
	RunsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_runs_processed_total",
		Help: "Runs advanced by schedulers.",
	}, []string{"kind", "result"})

	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_jobs_enqueued_total",
		Help: "Jobs published to the queue.",
	}, []string{"kind"})

	PollCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_poll_cycle_duration_seconds",
		Help:    "Poll cycle duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	PollCyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_poll_cycles_skipped_total",
		Help: "Poll cycles skipped because the previous one was still running.",
	}, []string{"kind"})
)

// Метрики batch log writer.
var (
	LogFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_log_flush_total",
		Help: "Log batch flushes by result.",
	}, []string{"result"})

	LogBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_log_buffer_size",
		Help: "Log entries waiting for flush.",
	})
)
