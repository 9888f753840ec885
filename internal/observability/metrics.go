package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the API and the batch pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	batchesSubmittedTotal prometheus.Counter
	batchesCancelledTotal prometheus.Counter
	unitsSucceededTotal   prometheus.Counter
	unitsFailedTotal      *prometheus.CounterVec
	analysisDuration      prometheus.Histogram
	commitsSavedTotal     prometheus.Counter
	commitsFailedTotal    *prometheus.CounterVec
	creditsChargedTotal   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scan_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "batches_submitted_total",
				Help:      "Total number of receipt batches accepted for processing.",
			},
		),
		batchesCancelledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "batches_cancelled_total",
				Help:      "Total number of batches cancelled by the user.",
			},
		),
		unitsSucceededTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "units_succeeded_total",
				Help:      "Total number of receipt images analyzed successfully.",
			},
		),
		unitsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "units_failed_total",
				Help:      "Total number of receipt images that failed analysis, by error kind.",
			},
			[]string{"kind"},
		),
		analysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scan_engine",
				Name:      "analysis_duration_seconds",
				Help:      "Vision analysis call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		commitsSavedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "commits_saved_total",
				Help:      "Total number of transactions durably saved at commit.",
			},
		),
		commitsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "commits_failed_total",
				Help:      "Total number of transaction writes that failed at commit, by error kind.",
			},
			[]string{"kind"},
		),
		creditsChargedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scan_engine",
				Name:      "credits_charged_total",
				Help:      "Total number of batch credits charged after first durable save.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesSubmittedTotal,
		m.batchesCancelledTotal,
		m.unitsSucceededTotal,
		m.unitsFailedTotal,
		m.analysisDuration,
		m.commitsSavedTotal,
		m.commitsFailedTotal,
		m.creditsChargedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchSubmitted() {
	if m == nil {
		return
	}
	m.batchesSubmittedTotal.Inc()
}

func (m *Metrics) IncBatchCancelled() {
	if m == nil {
		return
	}
	m.batchesCancelledTotal.Inc()
}

func (m *Metrics) IncUnitSucceeded() {
	if m == nil {
		return
	}
	m.unitsSucceededTotal.Inc()
}

func (m *Metrics) IncUnitFailed(kind string) {
	if m == nil {
		return
	}
	m.unitsFailedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) ObserveAnalysisDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.analysisDuration.Observe(seconds)
}

func (m *Metrics) IncCommitSaved() {
	if m == nil {
		return
	}
	m.commitsSavedTotal.Inc()
}

func (m *Metrics) IncCommitFailed(kind string) {
	if m == nil {
		return
	}
	m.commitsFailedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncCreditCharged() {
	if m == nil {
		return
	}
	m.creditsChargedTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func normalizeKind(kind string) string {
	kindLabel := strings.TrimSpace(strings.ToLower(kind))
	if kindLabel == "" {
		kindLabel = "unknown"
	}
	return kindLabel
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}
	return c.Response().StatusCode()
}
