package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks REST gateway requests by operation and status class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_exchange_requests_total",
			Help: "Total number of exchange REST requests",
		},
		[]string{"op", "status"},
	)

	// RequestDuration tracks REST gateway latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_exchange_request_duration_seconds",
			Help:    "Duration of exchange REST requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// PaperOrdersTotal tracks orders handled by the paper exchange.
	PaperOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_exchange_paper_orders_total",
			Help: "Total number of paper exchange operations",
		},
		[]string{"op"},
	)
)
