package alert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsSentTotal counts alert deliveries by channel and result.
	AlertsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_alerts_sent_total",
			Help: "Total number of alert deliveries",
		},
		[]string{"channel", "result"},
	)

	// AlertsSuppressedTotal counts alerts dropped as repeats.
	AlertsSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_alerts_suppressed_total",
		Help: "Total number of alerts suppressed by deduplication",
	})
)
