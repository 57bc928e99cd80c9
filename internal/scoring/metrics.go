package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	semanticCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worklog",
			Name:      "semantic_calls_total",
			Help:      "Semantic similarity lookups, by outcome (ok or fallback).",
		},
		[]string{"outcome"},
	)

	semanticDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worklog",
			Name:      "semantic_call_duration_seconds",
			Help:      "Latency of semantic similarity lookups.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
