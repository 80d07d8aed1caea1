package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveOrders tracks the number of non-terminal orders in the registry.
	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_registry_active_orders",
		Help: "Number of non-terminal orders tracked in the registry",
	})

	// Tombstones tracks terminal records retained to reject late updates.
	Tombstones = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_registry_tombstones",
		Help: "Number of terminal order records retained until pruned",
	})

	// WritesTotal counts committed registry writes by operation.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_registry_writes_total",
			Help: "Total number of committed registry writes",
		},
		[]string{"op"},
	)

	// TerminalViolationsTotal counts Upsert and Acknowledge calls rejected
	// because the record was already terminal.
	TerminalViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_registry_terminal_violations_total",
		Help: "Total number of writes rejected because the order was already terminal",
	})
)
