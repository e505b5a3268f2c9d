package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	filesConverted    *prometheus.CounterVec
	uploadBytes       prometheus.Histogram
	archiveBytes      prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitsflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 12),
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_queue_jobs_enqueued_total",
			Help: "Total jobs enqueued to the processing queue.",
		}, []string{"queue"}),
		filesConverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_api_files_converted_total",
			Help: "FITS files converted synchronously by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsflow_api_upload_bytes",
			Help:    "Total FITS bytes received per synchronous conversion.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 10),
		}),
		archiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsflow_api_archive_bytes",
			Help:    "Size of archives returned by synchronous conversions.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 10),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.filesConverted,
		m.uploadBytes,
		m.archiveBytes,
	)
	return m
}

func (m *metrics) observeConversion(files []pipeline.File, result pipeline.BatchResult) {
	var in int
	for _, f := range files {
		in += len(f.Data)
	}
	m.uploadBytes.Observe(float64(in))
	m.archiveBytes.Observe(float64(len(result.Archive)))
	s := result.Summary
	m.filesConverted.WithLabelValues(domain.OutcomeSuccess).Add(float64(s.Succeeded))
	m.filesConverted.WithLabelValues(domain.OutcomeRenderFailed).Add(float64(s.RenderFailed))
	m.filesConverted.WithLabelValues(domain.OutcomeError).Add(float64(s.Failed))
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case strings.HasPrefix(path, "/v1/jobs"):
		return "/v1/jobs"
	case strings.HasPrefix(path, "/v1/convert"):
		return "/v1/convert"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
