// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector aggregates the run-level and gateway-level Prometheus metrics.
type Collector struct {
	// Gateway metrics
	gatewayRequestsTotal   *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec
	gatewayRetriesTotal    *prometheus.CounterVec

	// Run metrics
	turnsTotal         *prometheus.CounterVec
	degradedTurnsTotal prometheus.Counter
	facilitatorActions *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	convergenceScore   prometheus.Gauge
	discussionDepth    prometheus.Gauge
	readyRatio         prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metrics with reg. Pass
// a fresh registry per test to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of LLM gateway requests",
		},
		[]string{"op", "status"},
	)
	factory(c.gatewayRequestsTotal)

	c.gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "LLM gateway request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"op"},
	)
	factory(c.gatewayRequestDuration)

	c.gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Total number of gateway retries",
		},
		[]string{"op"},
	)
	factory(c.gatewayRetriesTotal)

	c.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed agent turns",
		},
		[]string{"agent"},
	)
	factory(c.turnsTotal)

	c.degradedTurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_turns_total",
			Help:      "Total number of turns completed via the emergency fallback",
		},
	)
	factory(c.degradedTurnsTotal)

	c.facilitatorActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facilitator_actions_total",
			Help:      "Total number of facilitator decisions by action",
		},
		[]string{"action"},
	)
	factory(c.facilitatorActions)

	c.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of debate runs by outcome",
		},
		[]string{"outcome"}, // concluded, cancelled, failed
	)
	factory(c.runsTotal)

	c.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Debate run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	factory(c.runDuration)

	c.convergenceScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "convergence_score",
			Help:      "Latest convergence score of the running debate",
		},
	)
	factory(c.convergenceScore)

	c.discussionDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discussion_depth",
			Help:      "Latest discussion depth of the running debate",
		},
	)
	factory(c.discussionDepth)

	c.readyRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_ratio",
			Help:      "Latest readiness ratio of the running debate",
		},
	)
	factory(c.readyRatio)

	return c
}

// ObserveGatewayRequest records one gateway call.
func (c *Collector) ObserveGatewayRequest(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.gatewayRequestsTotal.WithLabelValues(op, status).Inc()
	c.gatewayRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncGatewayRetry records one retry attempt.
func (c *Collector) IncGatewayRetry(op string) {
	c.gatewayRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveTurn records a completed agent turn.
func (c *Collector) ObserveTurn(agent string, degraded bool) {
	c.turnsTotal.WithLabelValues(agent).Inc()
	if degraded {
		c.degradedTurnsTotal.Inc()
	}
}

// ObserveFacilitatorAction records a facilitator decision.
func (c *Collector) ObserveFacilitatorAction(action string) {
	c.facilitatorActions.WithLabelValues(action).Inc()
}

// ObserveRun records one finished run.
func (c *Collector) ObserveRun(outcome string, duration time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// SetRunMetrics publishes the latest metric snapshot.
func (c *Collector) SetRunMetrics(convergence, depth, readyRatio float64) {
	c.convergenceScore.Set(convergence)
	c.discussionDepth.Set(depth)
	c.readyRatio.Set(readyRatio)
}
