// Package metrics exposes Prometheus collectors for compilations and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "topoplan"

// Collector owns a private registry and the collectors registered on it.
type Collector struct {
	registry *prometheus.Registry

	compilations   *prometheus.CounterVec
	compileSeconds prometheus.Histogram
	applications   prometheus.Histogram
	connections    *prometheus.CounterVec
	warnings       prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a collector under namespace. An empty namespace
// means "topoplan".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "total",
			Help:      "Total number of compilations by result.",
		}, []string{"result"}),

		compileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Duration of compilations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),

		applications: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "applications",
			Help:      "Applications per compiled plan.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),

		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "network_connections_total",
			Help:      "Network connections synthesized, by service type.",
		}, []string{"service_type"}),

		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "warnings_total",
			Help:      "Warnings emitted by compilations.",
		}),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
	}

	c.registry.MustRegister(
		c.compilations,
		c.compileSeconds,
		c.applications,
		c.connections,
		c.warnings,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// Compilation Metrics
// =============================================================================

// CompileResult summarizes one compilation for RecordCompile.
type CompileResult struct {
	Applications int
	ServiceTypes []string // one entry per synthesized network connection
	Warnings     int
	Err          error
}

// RecordCompile records one compilation.
func (c *Collector) RecordCompile(res CompileResult, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	c.compileSeconds.Observe(duration.Seconds())

	if res.Err != nil {
		c.compilations.WithLabelValues("error").Inc()
		return
	}
	c.compilations.WithLabelValues("ok").Inc()
	c.applications.Observe(float64(res.Applications))
	for _, st := range res.ServiceTypes {
		c.connections.WithLabelValues(st).Inc()
	}
	c.warnings.Add(float64(res.Warnings))
}

// =============================================================================
// HTTP Metrics
// =============================================================================

// InstrumentHandler wraps next with HTTP metrics collection.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		c.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// canonicalPath collapses plan IDs so label cardinality stays bounded.
func canonicalPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "plan_") {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
