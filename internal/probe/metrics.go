package probe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dzbrowse",
		Subsystem: "probe",
		Name:      "probes_total",
		Help:      "Liveness probes by outcome.",
	}, []string{"outcome"})

	probesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dzbrowse",
		Subsystem: "probe",
		Name:      "in_flight",
		Help:      "Probes currently awaiting a response.",
	})

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dzbrowse",
		Subsystem: "probe",
		Name:      "duration_seconds",
		Help:      "Round trip time of individual probes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)
