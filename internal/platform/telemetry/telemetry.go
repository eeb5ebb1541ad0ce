// Package telemetry exposes Prometheus metrics for the submission pipeline
// and the HTTP API.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "typeloader"

// Invocation results recorded by ObserveInvocation.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultTimeout  = "timeout"
	ResultError    = "error"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics owns a private registry so several instances (tests, one per
// process) never collide. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations  *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	replyShapes  *prometheus.CounterVec
	artifacts    prometheus.Counter
	artifactSize prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New registers every collector, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Webin-CLI invocations by mode and result.",
		}, []string{"mode", "result"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Wall time of Webin-CLI invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_transitions_total",
			Help:      "Submission batch state transitions.",
		}, []string{"from", "to"}),
		replyShapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_shapes_total",
			Help:      "Correlated outcomes by the shape of the reply they were read from.",
		}, []string{"shape"}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_built_total",
			Help:      "Concatenated flatfile artifacts built.",
		}),
		artifactSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_samples",
			Help:      "Samples per built artifact.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}
	m.registry.MustRegister(
		m.invocations, m.toolDuration, m.transitions, m.replyShapes,
		m.artifacts, m.artifactSize,
		m.httpRequests, m.httpDuration, m.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveInvocation records one tool run.
func (m *Metrics) ObserveInvocation(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(mode, result).Inc()
	m.toolDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Transition records a batch state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ReplyShape records the shape an outcome was correlated from.
func (m *Metrics) ReplyShape(shape string) {
	if m == nil {
		return
	}
	m.replyShapes.WithLabelValues(shape).Inc()
}

// ArtifactBuilt records a finished artifact and its sample count.
func (m *Metrics) ArtifactBuilt(samples int) {
	if m == nil {
		return
	}
	m.artifacts.Inc()
	m.artifactSize.Observe(float64(samples))
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// Middleware records request counts, latency and in-flight requests, labelled
// by route pattern rather than raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
