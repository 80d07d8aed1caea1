package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerEnabled indicates whether the breaker allows gateway calls.
	CircuitBreakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_circuit_breaker_enabled",
		Help: "Whether the circuit breaker allows gateway calls (1=enabled, 0=tripped)",
	})

	// CircuitBreakerConsecutiveFailures tracks the current run of transient gateway failures.
	CircuitBreakerConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_circuit_breaker_consecutive_failures",
		Help: "Current number of consecutive transient gateway failures",
	})

	// CircuitBreakerStateChanges tracks the number of times the circuit breaker changed state.
	CircuitBreakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_circuit_breaker_state_changes_total",
		Help: "Total number of times circuit breaker changed state (enabled/tripped)",
	})
)
