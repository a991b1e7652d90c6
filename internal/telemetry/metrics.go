// Package telemetry exposes Prometheus metrics for the departure service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "departureboard"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	feedRequests    *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	droppedTriggers prometheus.Counter
	refreshDuration prometheus.Histogram
	pagesPerRefresh prometheus.Histogram
	cachedDeps      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Upstream departure page requests by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Completed refresh cycles by outcome.",
		}, []string{"outcome"}),
		droppedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_triggers_dropped_total",
			Help:      "Refresh requests dropped because a refresh was already running.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a refresh cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		pagesPerRefresh: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_pages",
			Help:      "Feed pages requested per refresh cycle.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		}),
		cachedDeps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_departures",
			Help:      "Departures held in the current snapshot.",
		}),
	}

	reg.MustRegister(
		m.feedRequests,
		m.refreshes,
		m.droppedTriggers,
		m.refreshDuration,
		m.pagesPerRefresh,
		m.cachedDeps,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FeedRequest(err error) {
	if m == nil {
		return
	}
	m.feedRequests.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Refresh(err error, took time.Duration, pages int) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome(err)).Inc()
	m.refreshDuration.Observe(took.Seconds())
	m.pagesPerRefresh.Observe(float64(pages))
}

func (m *Metrics) DroppedTrigger() {
	if m == nil {
		return
	}
	m.droppedTriggers.Inc()
}

func (m *Metrics) CachedDepartures(n int) {
	if m == nil {
		return
	}
	m.cachedDeps.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
