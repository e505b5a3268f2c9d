package worker

import (
	"net/http"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
	filesTotal      *prometheus.CounterVec
	inputBytesTotal prometheus.Counter
	archiveBytes    prometheus.Histogram
	webhookFailures *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitsflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each batch job.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitsflow_worker_active_jobs",
			Help: "Current number of batch jobs being converted.",
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_worker_files_total",
			Help: "FITS files converted by outcome (success, render_failed, error).",
		}, []string{"outcome"}),
		inputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitsflow_worker_input_bytes_total",
			Help: "Total FITS bytes fetched by the worker.",
		}),
		archiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsflow_worker_archive_bytes",
			Help:    "Size of emitted ZIP archives.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 10),
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsflow_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.filesTotal,
		m.inputBytesTotal,
		m.archiveBytes,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) observeSummary(s domain.Summary) {
	m.filesTotal.WithLabelValues(domain.OutcomeSuccess).Add(float64(s.Succeeded))
	m.filesTotal.WithLabelValues(domain.OutcomeRenderFailed).Add(float64(s.RenderFailed))
	m.filesTotal.WithLabelValues(domain.OutcomeError).Add(float64(s.Failed))
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
