package metrics

import (
	"net/http"

	"github.com/yourorg/live-signals/internal/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "live_signals"

// Metrics groups the collectors of one process on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	Cycles        prometheus.Counter
	CycleDuration prometheus.Histogram
	FetchErrors   *prometheus.CounterVec
	Signals       *prometheus.CounterVec
	SinkWrites    *prometheus.CounterVec
	Requests      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_cycles_total", Help: "Completed poll cycles",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_cycle_seconds", Help: "Duration of a full poll cycle",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_errors_total", Help: "Quote fetch failures by error kind",
		}, []string{"kind"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total", Help: "Scored results by signal",
		}, []string{"signal"}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_writes_total", Help: "Sink writes by outcome",
		}, []string{"status"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.Cycles, m.CycleDuration, m.FetchErrors, m.Signals, m.SinkWrites, m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterCache exposes a cache's counters under the given name
func (m *Metrics) RegisterCache(name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	counter := func(metric, help string, pick func(cache.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: metric, Help: help, ConstLabels: labels,
		}, func() float64 { return float64(pick(stats())) })
	}
	m.Registry.MustRegister(
		counter("cache_hits_total", "Cache reads served from a live entry", func(s cache.Stats) uint64 { return s.Hits }),
		counter("cache_misses_total", "Cache reads that missed", func(s cache.Stats) uint64 { return s.Misses }),
		counter("cache_fetches_total", "Upstream fetches run by the cache", func(s cache.Stats) uint64 { return s.Fetches }),
		counter("cache_fetch_errors_total", "Upstream fetches that failed", func(s cache.Stats) uint64 { return s.Errors }),
	)
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
