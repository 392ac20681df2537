// Package meshmetrics exposes the orchestrator's Prometheus instrumentation,
// grounded in the teacher's pkg/engine/metrics.go package-level GaugeVec/
// CounterVec-plus-init-registration shape, re-keyed from rate-limit pool
// metrics to dispatch-tree metrics.
package meshmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadmesh_dispatches_total",
			Help: "Total number of peer dispatches issued",
		},
		[]string{"generation"},
	)

	ChunksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadmesh_chunks_completed_total",
			Help: "Total number of chunks whose completion has been observed",
		},
		[]string{"generation"},
	)

	RecursionDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadmesh_recursion_depth",
			Help: "Most recent orchestrator recursion depth observed",
		},
	)

	ClockDriftMilliseconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadmesh_clock_drift_milliseconds",
			Help: "Most recently measured drift against the external time source",
		},
	)
)

func init() {
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(ChunksCompletedTotal)
	prometheus.MustRegister(RecursionDepth)
	prometheus.MustRegister(ClockDriftMilliseconds)
}

// Recorder adapts the package-level metrics to orchestrator.Metrics,
// labeling counters with the mesh's deployment generation.
type Recorder struct {
	Generation string
}

func (r Recorder) DispatchIssued() {
	DispatchesTotal.WithLabelValues(r.Generation).Inc()
}

func (r Recorder) ChunkCompleted() {
	ChunksCompletedTotal.WithLabelValues(r.Generation).Inc()
}

func (r Recorder) RecursionDepth(depth int) {
	RecursionDepth.Set(float64(depth))
}
