package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// geocoding service.
type Metrics struct {
	JobsSubmitted      prometheus.Counter
	JobsFinished       *prometheus.CounterVec // labels: status={completed,partially_failed}
	AddressesProcessed prometheus.Counter
	CoordinatorRunning prometheus.Gauge
	WorkersBusy        prometheus.Gauge
	JobDuration        prometheus.Histogram

	// Cache metrics.
	CacheLookups   *prometheus.CounterVec // labels: result={hit,miss,error}
	CacheEvictions prometheus.Counter
	CacheSize      prometheus.Gauge

	// Provider metrics.
	ProviderCalls     *prometheus.CounterVec   // labels: provider, outcome={success,timeout,quota_exceeded,no_match,transient,low_confidence}
	ProviderDuration  *prometheus.HistogramVec // labels: provider
	RateLimitTimeouts *prometheus.CounterVec   // labels: provider
	RateLimitWait     *prometheus.HistogramVec // labels: provider

	// Dead-letter metrics.
	DeadLetters prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.JobsSubmitted,
		m.JobsFinished,
		m.AddressesProcessed,
		m.CoordinatorRunning,
		m.WorkersBusy,
		m.JobDuration,
		m.CacheLookups,
		m.CacheEvictions,
		m.CacheSize,
		m.ProviderCalls,
		m.ProviderDuration,
		m.RateLimitTimeouts,
		m.RateLimitWait,
		m.DeadLetters,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	const ns = "geocoding"

	return &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_submitted_total",
			Help:      "Total batch jobs accepted.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"status"}),
		AddressesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "addresses_processed_total",
			Help:      "Input addresses with a terminal outcome, including fan-out duplicates.",
		}),
		CoordinatorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "coordinator_running",
			Help:      "1 when the worker pool is active, 0 when shut down.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "workers_busy",
			Help:      "Workers currently resolving an address.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "job_duration_seconds",
			Help:      "Wall time from submission to terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_lookups_total",
			Help:      "Geocode cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted after TTL expiry.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_entries",
			Help:      "Live entries in the geocode cache.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provider_calls_total",
			Help:      "Outbound geocoding calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "provider_duration_seconds",
			Help:      "Provider API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		RateLimitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rate_limit_timeouts_total",
			Help:      "Token acquisitions abandoned after the max wait.",
		}, []string{"provider"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate-limit token.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"provider"}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dead_letters_total",
			Help:      "Addresses moved to the dead-letter set.",
		}),
	}
}
