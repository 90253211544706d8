package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

var (
	refreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dzbrowse",
		Subsystem: "pipeline",
		Name:      "refresh_cycles_total",
		Help:      "Completed refresh cycles by outcome.",
	}, []string{"outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dzbrowse",
		Subsystem: "pipeline",
		Name:      "refresh_duration_seconds",
		Help:      "Wall clock duration of full refresh cycles.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	knownServers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dzbrowse",
		Subsystem: "pipeline",
		Name:      "known_servers",
		Help:      "Servers written by the most recent refresh.",
	})

	searchCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dzbrowse",
		Subsystem: "pipeline",
		Name:      "search_cache_hits_total",
		Help:      "Search queries served from the memoization cache.",
	})
)
