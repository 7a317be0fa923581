// Package metrics exposes Prometheus collectors for the upload service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/filestore/backend/internal/models"
	"github.com/filestore/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. It observes dispatcher results,
// tracks background tasks and instruments HTTP requests.
type Metrics struct {
	gatherer prometheus.Gatherer

	filesTotal     *prometheus.CounterVec
	fileBytes      *prometheus.HistogramVec
	bgInflight     prometheus.Gauge
	bgTasksTotal   *prometheus.CounterVec
	bgTaskDuration prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	httpInFlight   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		// Stored and failed files partitioned by route, field, engine and outcome
		filesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filestore_files_total",
				Help: "Total number of files processed",
			},
			[]string{"route", "field", "storage", "status"},
		),
		fileBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filestore_file_bytes",
				Help:    "Size of stored files in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"route", "storage"},
		),
		bgInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filestore_background_inflight",
				Help: "Number of background uploads currently running",
			},
		),
		bgTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filestore_background_tasks_total",
				Help: "Total number of finished background uploads",
			},
			[]string{"status"},
		),
		bgTaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filestore_background_task_duration_seconds",
				Help:    "Background upload latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_inflight_requests",
				Help: "Number of HTTP requests currently being served",
			},
		),
	}
}

// Observe implements the dispatcher Observer.
func (m *Metrics) Observe(_ context.Context, route string, res *models.FileResult) {
	status := "stored"
	if !res.Status {
		status = "failed"
	}
	m.filesTotal.WithLabelValues(route, res.FieldName, res.Storage, status).Inc()
	if res.Status {
		m.fileBytes.WithLabelValues(route, res.Storage).Observe(float64(res.Size))
	}
}

// TaskStarted implements upload.Tracker.
func (m *Metrics) TaskStarted() {
	m.bgInflight.Inc()
}

// TaskFinished implements upload.Tracker.
func (m *Metrics) TaskFinished(status upload.Status, elapsed time.Duration) {
	m.bgInflight.Dec()
	m.bgTasksTotal.WithLabelValues(string(status)).Inc()
	m.bgTaskDuration.Observe(elapsed.Seconds())
}

// statusCoder is implemented by errors that carry their HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Middleware records request counts and latencies. Labels use the matched
// route template to keep cardinality low.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var httpErr *echo.HTTPError
				var coded statusCoder
				switch {
				case errors.As(err, &httpErr):
					status = httpErr.Code
				case errors.As(err, &coded):
					status = coded.StatusCode()
				default:
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := prometheus.Labels{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			m.httpRequests.With(labels).Inc()
			m.httpDuration.With(labels).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
