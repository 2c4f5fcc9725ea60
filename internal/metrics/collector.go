// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the engine's Prometheus metrics.
type Collector struct {
	agentInvocationsTotal   *prometheus.CounterVec
	agentInvocationDuration *prometheus.HistogramVec

	handoffsTotal          *prometheus.CounterVec
	handoffRejectionsTotal *prometheus.CounterVec
	handoffChainDepth      prometheus.Histogram

	subtasksTotal   *prometheus.CounterVec
	subtaskDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec

	compressionsTotal  prometheus.Counter
	turnsArchivedTotal prometheus.Counter
	compressionRatio   prometheus.Histogram

	sessionsActive prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered against reg. A nil reg uses
// the default registerer; a nil logger is replaced with a no-op.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentInvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocations_total",
			Help:      "Total number of agent invocations",
		},
		[]string{"agent", "status"},
	)

	c.agentInvocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_invocation_duration_seconds",
			Help:      "Agent invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of accepted agent handoffs",
		},
		[]string{"from", "to"},
	)

	c.handoffRejectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_rejections_total",
			Help:      "Total number of rejected handoff attempts",
		},
		[]string{"code"},
	)

	c.handoffChainDepth = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_chain_depth",
			Help:      "Final handoff chain depth per session",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	c.subtasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtasks_total",
			Help:      "Total number of executed workflow subtasks",
		},
		[]string{"workflow", "status"},
	)

	c.subtaskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subtask_duration_seconds",
			Help:      "Subtask execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow", "subtask"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of subtask retry attempts",
		},
		[]string{"workflow"},
	)

	c.compressionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_compressions_total",
			Help:      "Total number of context compressions",
		},
	)

	c.turnsArchivedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_turns_archived_total",
			Help:      "Total number of context turns written to the archive",
		},
	)

	c.compressionRatio = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_compression_ratio",
			Help:      "Live window token ratio after versus before compression",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	c.sessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		},
	)

	return c
}

// RecordInvocation records one agent invocation.
func (c *Collector) RecordInvocation(agent, status string, duration time.Duration) {
	c.agentInvocationsTotal.WithLabelValues(agent, status).Inc()
	c.agentInvocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordHandoff records an accepted handoff.
func (c *Collector) RecordHandoff(from, to string) {
	c.handoffsTotal.WithLabelValues(from, to).Inc()
}

// RecordHandoffRejection records a rejected handoff attempt by error code.
func (c *Collector) RecordHandoffRejection(code string) {
	c.handoffRejectionsTotal.WithLabelValues(code).Inc()
}

// RecordChainDepth records a finished session's final chain depth.
func (c *Collector) RecordChainDepth(depth int) {
	c.handoffChainDepth.Observe(float64(depth))
}

// RecordSubtask records one finished subtask.
func (c *Collector) RecordSubtask(workflow, subtask, status string, duration time.Duration) {
	c.subtasksTotal.WithLabelValues(workflow, status).Inc()
	c.subtaskDuration.WithLabelValues(workflow, subtask).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt within a workflow.
func (c *Collector) RecordRetry(workflow string) {
	c.retriesTotal.WithLabelValues(workflow).Inc()
}

// RecordCompression records one context compression.
func (c *Collector) RecordCompression(turnsArchived int, ratio float64) {
	c.compressionsTotal.Inc()
	c.turnsArchivedTotal.Add(float64(turnsArchived))
	c.compressionRatio.Observe(ratio)
}

// SessionStarted increments the active session gauge.
func (c *Collector) SessionStarted() { c.sessionsActive.Inc() }

// SessionEnded decrements the active session gauge.
func (c *Collector) SessionEnded() { c.sessionsActive.Dec() }
