package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// graph execution monitoring in production environments.
//
// Metrics exposed (all namespaced with "stategraph_"):
//
// 1. inflight_nodes (gauge): Slots currently executing.
// Labels: graph.
//
// 2. frontier_size (gauge): Slots scheduled in the latest round.
// Labels: graph.
//
// 3. node_latency_ms (histogram): Node execution duration in milliseconds.
// Labels: graph, node, status (success/error/interrupted).
//
// 4. rounds_total (counter): Rounds started.
// Labels: graph.
//
// 5. interrupts_total (counter): Rounds suspended by an interrupt.
// Labels: graph, node.
//
// 6. failures_total (counter): Runs that ended with an error.
// Labels: graph, reason.
//
// 7. checkpoint_latency_ms (histogram): Checkpoint save duration.
// Labels: graph, status.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	g, _ := b.Compile(graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use and on a nil receiver.
type PrometheusMetrics struct {
	inflight   *prometheus.GaugeVec
	frontier   *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
	rounds     *prometheus.CounterVec
	interrupts *prometheus.CounterVec
	failures   *prometheus.CounterVec
	checkpoint *prometheus.HistogramVec

	enabled atomic.Bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with the provided Prometheus registry. A nil registry uses
// prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{}
	pm.enabled.Store(true)

	pm.inflight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stategraph",
		Name:      "inflight_nodes",
		Help:      "Current number of node slots executing concurrently",
	}, []string{"graph"})

	pm.frontier = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stategraph",
		Name:      "frontier_size",
		Help:      "Number of slots scheduled in the most recent round",
	}, []string{"graph"})

	pm.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stategraph",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"graph", "node", "status"})

	pm.rounds = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "rounds_total",
		Help:      "Rounds started across all invocations",
	}, []string{"graph"})

	pm.interrupts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "interrupts_total",
		Help:      "Rounds suspended by a node interrupt",
	}, []string{"graph", "node"})

	pm.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "failures_total",
		Help:      "Invocations that ended with an error",
	}, []string{"graph", "reason"})

	pm.checkpoint = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stategraph",
		Name:      "checkpoint_latency_ms",
		Help:      "Checkpoint save duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
	}, []string{"graph", "status"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	return pm != nil && pm.enabled.Load()
}

// RecordNodeLatency records the execution duration of one slot.
func (pm *PrometheusMetrics) RecordNodeLatency(graphName, node string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.latency.WithLabelValues(graphName, node, status).Observe(float64(latency.Milliseconds()))
}

// IncInflight marks a slot as started.
func (pm *PrometheusMetrics) IncInflight(graphName string) {
	if !pm.on() {
		return
	}
	pm.inflight.WithLabelValues(graphName).Inc()
}

// DecInflight marks a slot as finished.
func (pm *PrometheusMetrics) DecInflight(graphName string) {
	if !pm.on() {
		return
	}
	pm.inflight.WithLabelValues(graphName).Dec()
}

// SetFrontierSize records the number of slots in a round.
func (pm *PrometheusMetrics) SetFrontierSize(graphName string, size int) {
	if !pm.on() {
		return
	}
	pm.frontier.WithLabelValues(graphName).Set(float64(size))
}

// IncRounds counts a started round.
func (pm *PrometheusMetrics) IncRounds(graphName string) {
	if !pm.on() {
		return
	}
	pm.rounds.WithLabelValues(graphName).Inc()
}

// IncInterrupts counts a suspended round.
func (pm *PrometheusMetrics) IncInterrupts(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(graphName, node).Inc()
}

// IncFailures counts a failed invocation.
func (pm *PrometheusMetrics) IncFailures(graphName, reason string) {
	if !pm.on() {
		return
	}
	pm.failures.WithLabelValues(graphName, reason).Inc()
}

// ObserveCheckpoint records a checkpoint save.
func (pm *PrometheusMetrics) ObserveCheckpoint(graphName string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.checkpoint.WithLabelValues(graphName, status).Observe(float64(latency.Milliseconds()))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.enabled.Store(false)
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.enabled.Store(true)
}

// Reset clears the gauges. Counters and histograms are cumulative and are
// not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.inflight.Reset()
	pm.frontier.Reset()
}
