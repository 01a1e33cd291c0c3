package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the backend collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	streams       *prometheus.CounterVec
	frames        *prometheus.CounterVec
	searches      *prometheus.CounterVec
	searchLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "search_assist",
			Name:      "chat_streams_total",
			Help:      "Chat streams served, by outcome.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "search_assist",
			Name:      "stream_frames_total",
			Help:      "Event frames written, by kind.",
		}, []string{"kind"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "search_assist",
			Name:      "searches_total",
			Help:      "Search lookups, by source.",
		}, []string{"source"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "search_assist",
			Name:      "search_upstream_seconds",
			Help:      "Latency of upstream search requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.streams, m.frames, m.searches, m.searchLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeStream(outcome string) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFrame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeSearch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(source).Inc()
	if source == "upstream" || source == "error" {
		m.searchLatency.Observe(d.Seconds())
	}
}
