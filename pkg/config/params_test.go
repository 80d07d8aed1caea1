package config

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParameters_Defaults(t *testing.T) {
	snap, err := Validate(DefaultParameters())
	require.NoError(t, err)

	assert.Equal(t, 5, snap.MaxActivePositions)
	assert.Equal(t, []float64{5, 8, 12, 20}, snap.ProfitLevels)
	assert.Equal(t, []float64{0.20, 0.30, 0.50, 0.75}, snap.ProfitPercentages)
	assert.Equal(t, 120*time.Second, snap.StaleOrderThreshold)
	assert.Equal(t, 120.0, snap.ThresholdSeconds())
	assert.Equal(t, 3, snap.MaxCancelRetries)
	assert.Equal(t, 4, snap.MaxConcurrentCalls)
	assert.Equal(t, 10*time.Second, snap.GatewayCallTimeout)
	assert.Equal(t, 60*time.Second, snap.SweepDeadline)
	assert.Equal(t, time.Hour, snap.TombstoneRetention)
}

func TestValidateParameters_ProfitLevelsNotIncreasing(t *testing.T) {
	raw := DefaultParameters()
	raw.ProfitLevels = []float64{10, 5}
	raw.ProfitPercentages = []float64{0.5, 0.5}

	_, err := Validate(raw)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, cfgErr.HasField("profit_levels"))
	assert.Len(t, cfgErr.Violations, 1)
	assert.Contains(t, err.Error(), "profit_levels")
}

func TestValidateParameters_ReportsEveryViolation(t *testing.T) {
	raw := RawParameters{
		MaxActivePositions:         0,
		ProfitLevels:               []float64{5, 5, 3},
		ProfitPercentages:          []float64{0, 1.5},
		StaleOrderThresholdSeconds: -1,
		MaxCancelRetries:           -2,
		SweepDeadlineSeconds:       -1,
	}

	_, err := Validate(raw)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	for _, field := range []string{
		"max_active_positions",
		"profit_levels",
		"profit_percentages",
		"stale_order_threshold_seconds",
		"max_cancel_retries",
		"sweep_deadline_seconds",
	} {
		assert.True(t, cfgErr.HasField(field), "missing violation for %s", field)
	}
	assert.False(t, cfgErr.HasField("max_concurrent_calls"))

	// Length mismatch plus two out-of-range percentages.
	pctViolations := 0
	for _, v := range cfgErr.Violations {
		if v.Field == "profit_percentages" {
			pctViolations++
		}
	}
	assert.Equal(t, 3, pctViolations)
}

func TestValidateParameters_PercentageBounds(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		wantErr bool
	}{
		{"upper-bound-inclusive", 1.0, false},
		{"small-positive", 0.01, false},
		{"zero", 0, true},
		{"negative", -0.1, true},
		{"above-one", 1.0001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := DefaultParameters()
			raw.ProfitLevels = []float64{10}
			raw.ProfitPercentages = []float64{tt.pct}

			_, err := Validate(raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateParameters_NonFinite(t *testing.T) {
	tests := []struct {
		name      string
		levels    []float64
		pcts      []float64
		wantField string
	}{
		{"nan-level-hides-decrease", []float64{10, math.NaN(), 5}, []float64{0.2, 0.3, 0.5}, "profit_levels"},
		{"inf-level", []float64{5, math.Inf(1)}, []float64{0.2, 0.5}, "profit_levels"},
		{"nan-percentage", []float64{5, 8, 12}, []float64{0.2, math.NaN(), 0.5}, "profit_percentages"},
		{"negative-inf-percentage", []float64{5}, []float64{math.Inf(-1)}, "profit_percentages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := DefaultParameters()
			raw.ProfitLevels = tt.levels
			raw.ProfitPercentages = tt.pcts

			snap, err := Validate(raw)
			require.Error(t, err)
			assert.Nil(t, snap)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.True(t, cfgErr.HasField(tt.wantField))
			assert.Contains(t, err.Error(), "not a finite number")
		})
	}
}

func TestValidateParameters_DoesNotMutateInput(t *testing.T) {
	raw := DefaultParameters()
	raw.MaxCancelRetries = 0

	snap, err := Validate(raw)
	require.NoError(t, err)

	snap.ProfitLevels[0] = 999
	assert.Equal(t, 5.0, raw.ProfitLevels[0])
	assert.Equal(t, 0, raw.MaxCancelRetries)
	assert.Equal(t, 3, snap.MaxCancelRetries)
}

func TestSnapshot_RawRoundTrip(t *testing.T) {
	raw := DefaultParameters()
	raw.MaxCancelRetries = 7
	raw.GatewayCallTimeoutMs = 2500

	snap, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, snap.Raw())
}
