// Package metrics exposes the Prometheus instrumentation for the pipeline
// runtime. Transient runtime conditions (dropped frames, full queues,
// missed deadlines) are counted here rather than surfaced as errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessed counts frames a filter produced into an output queue.
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_frames_processed_total",
		Help: "Total frames produced by filters",
	})

	// FramesDropped counts frames discarded instead of delivered, by reason:
	// queue_full (drop-newest backpressure), transform_error, no_subscriber,
	// inbox_full, oversize, slow_subscriber.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weave_frames_dropped_total",
		Help: "Total frames dropped",
	}, []string{"reason"})

	// QueuesCreated counts frame queues allocated at edge wiring.
	QueuesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_queues_created_total",
		Help: "Total frame queues allocated",
	})

	// DeadlineMisses counts constant-framerate sweeps that overran their
	// period. Misses are not rescheduled; the cadence is preserved.
	DeadlineMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_worker_deadline_misses_total",
		Help: "Total constant-framerate worker deadline misses",
	})

	// WorkerIterations counts full sweeps across all workers.
	WorkerIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_worker_iterations_total",
		Help: "Total worker loop iterations",
	})

	// ProcessErrors counts non-fatal per-iteration filter failures caught
	// by the worker loop.
	ProcessErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_filter_process_errors_total",
		Help: "Total non-fatal filter process errors",
	})

	// ActiveWorkers tracks workers whose loop is currently running.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weave_active_workers",
		Help: "Number of running workers",
	})

	// ActivePaths tracks registered paths.
	ActivePaths = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weave_active_paths",
		Help: "Number of registered paths",
	})

	// IngestBytes counts payload bytes accepted from ingest sessions.
	IngestBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_ingest_bytes_total",
		Help: "Total bytes received from ingest sessions",
	})

	// EgressFrames counts frames consumed by the transmitter sink, whether or
	// not any subscriber received them.
	EgressFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weave_egress_frames_total",
		Help: "Total frames consumed by the transmitter sink",
	})
)
