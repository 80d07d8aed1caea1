package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ParamsReloadsTotal counts parameter reload attempts by result.
	ParamsReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_params_reloads_total",
		Help: "Total number of trading parameter reloads by result (success, load_error, invalid)",
	}, []string{"result"})

	// ParamsVersion tracks the version of the active parameter snapshot.
	ParamsVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_params_version",
		Help: "Version of the currently active trading parameter snapshot",
	})
)
