package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"darkspot/internal/raster"
	"darkspot/internal/types"
)

var latencyBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2500, 5000}

// Prometheus keeps its own registry so tests and multiple servers in one
// process do not collide on the global one.
type Prometheus struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	searches        *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	spotsReturned   prometheus.Histogram
	radiance        *prometheus.CounterVec
}

// NewPrometheus builds the collector. namespace prefixes every metric name
// and is lower-cased.
func NewPrometheus(namespace string) *Prometheus {
	ns := strings.ToLower(namespace)
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request duration in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"method", "endpoint"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "searches_total",
			Help:      "Dark-spot searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "search_duration_ms",
			Help:      "Dark-spot search duration in milliseconds, including raster reads.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		spotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "search_spots_returned",
			Help:      "Number of spots returned per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		radiance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "radiance_queries_total",
			Help:      "Point radiance lookups by outcome.",
		}, []string{"outcome"}),
	}
	p.registry.MustRegister(
		p.requests,
		p.requestDuration,
		p.searches,
		p.searchDuration,
		p.spotsReturned,
		p.radiance,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) RecordRequest(method, endpoint, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, endpoint, status).Inc()
	p.requestDuration.WithLabelValues(method, endpoint).Observe(millis(duration))
}

func (p *Prometheus) RecordSearch(outcome string, spots int, duration time.Duration) {
	p.searches.WithLabelValues(outcome).Inc()
	p.searchDuration.WithLabelValues(outcome).Observe(millis(duration))
	if outcome == types.OutcomeFound || outcome == types.OutcomeEmpty {
		p.spotsReturned.Observe(float64(spots))
	}
}

func (p *Prometheus) RecordRadiance(outcome string, _ time.Duration) {
	p.radiance.WithLabelValues(outcome).Inc()
}

// WatchCache exposes the raster chunk cache counters. stats is called on
// every scrape.
func (p *Prometheus) WatchCache(namespace string, stats func() raster.CacheStats) {
	ns := strings.ToLower(namespace)
	p.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Name: "chunk_cache_hits_total", Help: "Raster chunk cache hits.",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Name: "chunk_cache_misses_total", Help: "Raster chunk cache misses.",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Name: "chunk_cache_entries", Help: "Decoded chunks held in memory.",
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Name: "chunk_cache_bytes", Help: "Bytes of decoded chunks held in memory.",
		}, func() float64 { return float64(stats().Bytes) }),
	)
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the exposition format for this collector's registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
