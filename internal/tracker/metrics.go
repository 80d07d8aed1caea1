package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal tracks order submissions by result.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_tracker_submissions_total",
			Help: "Total number of order submissions by result",
		},
		[]string{"result"},
	)

	// EventsTotal tracks exchange events by how they were handled.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_tracker_events_total",
			Help: "Total number of exchange order events by result",
		},
		[]string{"result"},
	)
)
