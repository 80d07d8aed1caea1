package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal counts sweeps by result (complete, partial, skipped, failed).
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_sweeps_total",
			Help: "Total number of reconciliation sweeps by result",
		},
		[]string{"result"},
	)

	// SweepDuration tracks how long sweeps take.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciler_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// SweepOutcomesTotal counts per-order sweep outcomes.
	SweepOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_sweep_outcomes_total",
			Help: "Total number of per-order sweep outcomes",
		},
		[]string{"outcome"},
	)

	// SweepInProgress is 1 while a sweep is running.
	SweepInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_sweep_in_progress",
		Help: "Whether a reconciliation sweep is currently running",
	})

	// GatewayCallsTotal counts gateway calls made by sweeps.
	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_gateway_calls_total",
			Help: "Total number of gateway calls made during sweeps by operation and result",
		},
		[]string{"op", "result"},
	)

	// GatewayCallDuration tracks gateway call latency.
	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_gateway_call_duration_seconds",
			Help:    "Latency of gateway calls made during sweeps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// TriggersCoalescedTotal counts on-demand triggers absorbed by a pending one.
	TriggersCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_sweep_triggers_coalesced_total",
		Help: "Total number of sweep triggers coalesced into an already pending trigger",
	})
)
