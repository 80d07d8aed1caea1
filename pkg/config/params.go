package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RawParameters is the unvalidated shape of the trading parameters as read from
// a file or the environment. Policy fields left at zero take the default; the
// four core parameters are validated as given.
type RawParameters struct {
	MaxActivePositions         int       `toml:"max_active_positions"          yaml:"max_active_positions"          json:"max_active_positions"`
	ProfitLevels               []float64 `toml:"profit_levels"                 yaml:"profit_levels"                 json:"profit_levels"`
	ProfitPercentages          []float64 `toml:"profit_percentages"            yaml:"profit_percentages"            json:"profit_percentages"`
	StaleOrderThresholdSeconds int       `toml:"stale_order_threshold_seconds" yaml:"stale_order_threshold_seconds" json:"stale_order_threshold_seconds"`

	MaxCancelRetries          int `toml:"max_cancel_retries"          yaml:"max_cancel_retries"          json:"max_cancel_retries"`
	MaxConcurrentCalls        int `toml:"max_concurrent_calls"        yaml:"max_concurrent_calls"        json:"max_concurrent_calls"`
	GatewayCallTimeoutMs      int `toml:"gateway_call_timeout_ms"     yaml:"gateway_call_timeout_ms"     json:"gateway_call_timeout_ms"`
	SweepDeadlineSeconds      int `toml:"sweep_deadline_seconds"      yaml:"sweep_deadline_seconds"      json:"sweep_deadline_seconds"`
	TombstoneRetentionSeconds int `toml:"tombstone_retention_seconds" yaml:"tombstone_retention_seconds" json:"tombstone_retention_seconds"`
}

const (
	defaultMaxActivePositions         = 5
	defaultStaleOrderThresholdSeconds = 120
	defaultMaxCancelRetries           = 3
	defaultMaxConcurrentCalls         = 4
	defaultGatewayCallTimeoutMs       = 10_000
	defaultSweepDeadlineSeconds       = 60
	defaultTombstoneRetentionSeconds  = 3600
)

// DefaultParameters returns the built-in parameter set. It is the only place
// these defaults are defined.
func DefaultParameters() RawParameters {
	return RawParameters{
		MaxActivePositions:         defaultMaxActivePositions,
		ProfitLevels:               []float64{5, 8, 12, 20},
		ProfitPercentages:          []float64{0.20, 0.30, 0.50, 0.75},
		StaleOrderThresholdSeconds: defaultStaleOrderThresholdSeconds,
		MaxCancelRetries:           defaultMaxCancelRetries,
		MaxConcurrentCalls:         defaultMaxConcurrentCalls,
		GatewayCallTimeoutMs:       defaultGatewayCallTimeoutMs,
		SweepDeadlineSeconds:       defaultSweepDeadlineSeconds,
		TombstoneRetentionSeconds:  defaultTombstoneRetentionSeconds,
	}
}

// Snapshot is an immutable, validated parameter set. Consumers must treat the
// slices as read-only; Validate hands every snapshot its own copies.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	MaxActivePositions  int
	ProfitLevels        []float64
	ProfitPercentages   []float64
	StaleOrderThreshold time.Duration

	MaxCancelRetries   int
	MaxConcurrentCalls int
	GatewayCallTimeout time.Duration
	SweepDeadline      time.Duration
	TombstoneRetention time.Duration
}

// ThresholdSeconds returns the staleness threshold in seconds.
func (s *Snapshot) ThresholdSeconds() float64 {
	return s.StaleOrderThreshold.Seconds()
}

// Raw converts the snapshot back into the parameter shape it was built from.
func (s *Snapshot) Raw() RawParameters {
	return RawParameters{
		MaxActivePositions:         s.MaxActivePositions,
		ProfitLevels:               append([]float64(nil), s.ProfitLevels...),
		ProfitPercentages:          append([]float64(nil), s.ProfitPercentages...),
		StaleOrderThresholdSeconds: int(s.StaleOrderThreshold / time.Second),
		MaxCancelRetries:           s.MaxCancelRetries,
		MaxConcurrentCalls:         s.MaxConcurrentCalls,
		GatewayCallTimeoutMs:       int(s.GatewayCallTimeout / time.Millisecond),
		SweepDeadlineSeconds:       int(s.SweepDeadline / time.Second),
		TombstoneRetentionSeconds:  int(s.TombstoneRetention / time.Second),
	}
}

// Violation is one failed constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ConfigurationError lists every constraint a parameter set violates.
type ConfigurationError struct {
	Violations []Violation
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("invalid configuration (%d violations): %s", len(e.Violations), strings.Join(parts, "; "))
}

// HasField reports whether any violation names field.
func (e *ConfigurationError) HasField(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

// Validate checks raw against every constraint and returns a snapshot on
// success. raw is never modified. Version and LoadedAt are left for the Holder.
func Validate(raw RawParameters) (*Snapshot, error) {
	var violations []Violation
	add := func(field, format string, args ...any) {
		violations = append(violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if raw.MaxActivePositions <= 0 {
		add("max_active_positions", "must be positive, got %d", raw.MaxActivePositions)
	}

	if len(raw.ProfitLevels) == 0 {
		add("profit_levels", "must not be empty")
	}
	levelsFinite := true
	for i, level := range raw.ProfitLevels {
		if !isFinite(level) {
			add("profit_levels", "value %v at index %d is not a finite number", level, i)
			levelsFinite = false
		}
	}
	for i := 1; levelsFinite && i < len(raw.ProfitLevels); i++ {
		if !(raw.ProfitLevels[i] > raw.ProfitLevels[i-1]) {
			add("profit_levels", "must be strictly increasing, got %v at index %d after %v",
				raw.ProfitLevels[i], i, raw.ProfitLevels[i-1])
			break
		}
	}

	if len(raw.ProfitPercentages) != len(raw.ProfitLevels) {
		add("profit_percentages", "length %d does not match profit_levels length %d",
			len(raw.ProfitPercentages), len(raw.ProfitLevels))
	}
	for i, pct := range raw.ProfitPercentages {
		switch {
		case !isFinite(pct):
			add("profit_percentages", "value %v at index %d is not a finite number", pct, i)
		case !(pct > 0 && pct <= 1):
			add("profit_percentages", "value %v at index %d is outside (0,1]", pct, i)
		}
	}

	if raw.StaleOrderThresholdSeconds <= 0 {
		add("stale_order_threshold_seconds", "must be positive, got %d", raw.StaleOrderThresholdSeconds)
	}

	policy := []struct {
		field string
		value int
	}{
		{"max_cancel_retries", raw.MaxCancelRetries},
		{"max_concurrent_calls", raw.MaxConcurrentCalls},
		{"gateway_call_timeout_ms", raw.GatewayCallTimeoutMs},
		{"sweep_deadline_seconds", raw.SweepDeadlineSeconds},
		{"tombstone_retention_seconds", raw.TombstoneRetentionSeconds},
	}
	for _, p := range policy {
		if p.value < 0 {
			add(p.field, "must not be negative, got %d", p.value)
		}
	}

	if len(violations) > 0 {
		return nil, &ConfigurationError{Violations: violations}
	}

	return &Snapshot{
		MaxActivePositions:  raw.MaxActivePositions,
		ProfitLevels:        append([]float64(nil), raw.ProfitLevels...),
		ProfitPercentages:   append([]float64(nil), raw.ProfitPercentages...),
		StaleOrderThreshold: time.Duration(raw.StaleOrderThresholdSeconds) * time.Second,
		MaxCancelRetries:    orDefault(raw.MaxCancelRetries, defaultMaxCancelRetries),
		MaxConcurrentCalls:  orDefault(raw.MaxConcurrentCalls, defaultMaxConcurrentCalls),
		GatewayCallTimeout:  time.Duration(orDefault(raw.GatewayCallTimeoutMs, defaultGatewayCallTimeoutMs)) * time.Millisecond,
		SweepDeadline:       time.Duration(orDefault(raw.SweepDeadlineSeconds, defaultSweepDeadlineSeconds)) * time.Second,
		TombstoneRetention:  time.Duration(orDefault(raw.TombstoneRetentionSeconds, defaultTombstoneRetentionSeconds)) * time.Second,
	}, nil
}

// MustDefaultSnapshot validates DefaultParameters. It panics only if the
// built-in defaults are themselves invalid.
func MustDefaultSnapshot() *Snapshot {
	snap, err := Validate(DefaultParameters())
	if err != nil {
		panic(fmt.Sprintf("default parameters invalid: %v", err))
	}
	snap.Version = 1
	snap.LoadedAt = time.Now().UTC()
	return snap
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
