// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for the
// scraper.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/scheduled-scraper/internal/dbcheck"
)

const namespace = "scraper"

// Metrics owns a private registry so that parallel tests and multiple apps in
// one process never collide on metric names.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal       *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	pageBytes        prometheus.Counter
	dbChecksTotal    *prometheus.CounterVec
	dbCheckLatency   prometheus.Histogram
	runsTotal        *prometheus.CounterVec
	lastRunTimestamp prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics registers the scraper collectors, plus Go and process collectors
// when withRuntime is set.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Page fetches, labeled by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent launching the browser and rendering the page.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_bytes_total",
			Help:      "Bytes of rendered HTML received.",
		}),
		dbChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_checks_total",
			Help:      "Database liveness checks, labeled by status and failure kind.",
		}, []string{"status", "kind"}),
		dbCheckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_check_duration_seconds",
			Help:      "Latency of database liveness checks.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Invocations, labeled by outcome.",
		}, []string{"outcome"}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last invocation finished.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.fetchTotal, m.fetchDuration, m.pageBytes,
		m.dbChecksTotal, m.dbCheckLatency,
		m.runsTotal, m.lastRunTimestamp,
		m.httpRequests, m.httpDuration,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch records one page fetch.
func (m *Metrics) ObserveFetch(success bool, duration time.Duration, bytes int) {
	result := "success"
	if !success {
		result = "error"
	}
	m.fetchTotal.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(duration.Seconds())
	if bytes > 0 {
		m.pageBytes.Add(float64(bytes))
	}
}

// ObserveDatabaseCheck records one liveness check.
func (m *Metrics) ObserveDatabaseCheck(result dbcheck.Result) {
	kind := string(result.Kind)
	if kind == "" {
		kind = "none"
	}
	m.dbChecksTotal.WithLabelValues(string(result.Status), kind).Inc()
	m.dbCheckLatency.Observe(result.Latency.Seconds())
}

// ObserveRun records an invocation outcome.
func (m *Metrics) ObserveRun(outcome string) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.lastRunTimestamp.SetToCurrentTime()
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Push sends the registry to a Pushgateway under job. One-shot runs exit before
// any scrape could reach them, so they push instead.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

// Middleware is a chi middleware that records HTTP request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
