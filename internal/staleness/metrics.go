package staleness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StaleCandidates tracks the number of stale orders found by the last scan.
	StaleCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_stale_candidates",
		Help: "Number of stale orders found by the most recent scan",
	})

	// ClockSkewTotal counts records excluded because their created_at lies in the future.
	ClockSkewTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_stale_clock_skew_total",
		Help: "Total number of orders excluded from a scan due to clock skew",
	})

	// OldestStaleAge tracks the age of the oldest stale order in seconds.
	OldestStaleAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_stale_oldest_age_seconds",
		Help: "Age in seconds of the oldest stale order in the most recent scan",
	})
)
