package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loader produces an unvalidated parameter set.
type Loader func() (RawParameters, error)

// Holder publishes the latest validated Snapshot. Readers never observe a
// partially updated snapshot; a failed reload leaves the current one in place.
type Holder struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes Reload
	logger  *zap.Logger
}

// NewHolder creates a holder publishing initial. A zero Version becomes 1.
func NewHolder(initial *Snapshot, logger *zap.Logger) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}

	snap := *initial
	if snap.Version == 0 {
		snap.Version = 1
	}
	if snap.LoadedAt.IsZero() {
		snap.LoadedAt = time.Now().UTC()
	}

	h := &Holder{logger: logger}
	h.current.Store(&snap)
	ParamsVersion.Set(float64(snap.Version))

	return h
}

// Load runs load, validates the result and returns a holder for it.
func Load(load Loader, logger *zap.Logger) (*Holder, error) {
	raw, err := load()
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}

	snap, err := Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("validate parameters: %w", err)
	}

	return NewHolder(snap, logger), nil
}

// Current returns the active snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Reload loads and validates a new parameter set and swaps it in only if it is
// valid. On failure the previous snapshot stays active and the error is returned.
func (h *Holder) Reload(load Loader) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := load()
	if err != nil {
		ParamsReloadsTotal.WithLabelValues("load_error").Inc()
		h.logger.Error("params-reload-load-failed", zap.Error(err))
		return nil, fmt.Errorf("load parameters: %w", err)
	}

	snap, err := Validate(raw)
	if err != nil {
		ParamsReloadsTotal.WithLabelValues("invalid").Inc()
		h.logger.Error("params-reload-rejected",
			zap.Uint64("active-version", h.Current().Version),
			zap.Error(err))
		return nil, fmt.Errorf("validate parameters: %w", err)
	}

	prev := h.Current()
	snap.Version = prev.Version + 1
	snap.LoadedAt = time.Now().UTC()
	h.current.Store(snap)

	ParamsReloadsTotal.WithLabelValues("success").Inc()
	ParamsVersion.Set(float64(snap.Version))
	h.logger.Info("params-reloaded",
		zap.Uint64("version", snap.Version),
		zap.Int("max-active-positions", snap.MaxActivePositions),
		zap.Duration("stale-order-threshold", snap.StaleOrderThreshold),
		zap.Int("max-cancel-retries", snap.MaxCancelRetries))

	return snap, nil
}
