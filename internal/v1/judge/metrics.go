package judge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the judge queue.
//
// Naming convention: namespace_subsystem_name, matching
// internal/v1/metrics' convention (namespace=radix).
var (
	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "radix",
		Subsystem: "judge",
		Name:      "jobs_queued",
		Help:      "Current number of jobs waiting in the judge queue",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radix",
		Subsystem: "judge",
		Name:      "jobs_total",
		Help:      "Total judge jobs processed",
	}, []string{"language", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "radix",
		Subsystem: "judge",
		Name:      "job_duration_seconds",
		Help:      "Time spent executing a judge job end to end",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	}, []string{"language"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radix",
		Subsystem: "judge",
		Name:      "cache_lookups_total",
		Help:      "Judge result cache lookups",
	}, []string{"outcome"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "radix",
		Subsystem: "judge",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed,1=open,2=half-open) per guarded client",
	}, []string{"client"})
)
