package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worklog",
			Name:      "matches_total",
			Help:      "Start/end pairs committed, by how they were matched.",
		},
		[]string{"kind"},
	)

	matchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worklog",
			Name:      "match_failures_total",
			Help:      "Match attempts that ended in an error, by kind.",
		},
		[]string{"kind"},
	)
)
