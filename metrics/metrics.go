// Package metrics exposes Prometheus collectors for the conversion service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rgbdapi"

// Metrics groups the service collectors on a private registry so tests can
// create as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	jobs          *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	active        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished conversion jobs by outcome.",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Job submissions rejected before the pipeline started.",
		}, []string{"reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of completed pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"stage"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_active",
			Help:      "1 while a conversion job is running.",
		}),
	}
	m.registry.MustRegister(
		m.jobs,
		m.rejected,
		m.stageDuration,
		m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JobFinished(success bool) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) StageDone(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) SetActive(active bool) {
	if active {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
