package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts journal writes by operation and result.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_storage_writes_total",
			Help: "Total number of journal writes",
		},
		[]string{"op", "result"},
	)

	// WriteDurationSeconds tracks backend write latency.
	WriteDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_storage_write_duration_seconds",
			Help:    "Duration of journal writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// JournalQueueDepth tracks entries waiting to be written.
	JournalQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_storage_journal_queue_depth",
		Help: "Number of journal entries waiting to be written",
	})

	// JournalDroppedTotal counts entries dropped before reaching the backend.
	JournalDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_storage_journal_dropped_total",
			Help: "Total number of journal entries dropped",
		},
		[]string{"reason"},
	)
)
