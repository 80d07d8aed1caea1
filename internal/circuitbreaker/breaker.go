// Package circuitbreaker stops reconciliation traffic to an exchange that keeps
// failing transiently, and lets it through again after a cooldown.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// GatewayBreaker trips after a run of consecutive transient gateway failures.
// While tripped, Allow returns false. After the cooldown the breaker re-enables
// in a probing state where a single further failure trips it again.
type GatewayBreaker struct {
	enabled atomic.Bool // Atomic for lock-free reads

	// Configuration
	failureThreshold int
	cooldown         time.Duration
	checkInterval    time.Duration
	now              func() time.Time
	logger           *zap.Logger

	// Protected by mutex
	mu                  sync.RWMutex
	consecutiveFailures int
	trippedAt           time.Time
	lastFailure         time.Time
	probing             bool
}

// Config holds circuit breaker configuration.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	CheckInterval    time.Duration // how often the monitor loop checks the cooldown
	Now              func() time.Time
	Logger           *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	Enabled             bool      `json:"enabled"`
	Probing             bool      `json:"probing"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailureThreshold    int       `json:"failure_threshold"`
	TrippedAt           time.Time `json:"tripped_at,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (breaker *GatewayBreaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("failure threshold must be positive")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	breaker = &GatewayBreaker{
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		checkInterval:    checkInterval,
		now:              now,
		logger:           cfg.Logger,
	}

	// Start enabled by default
	breaker.enabled.Store(true)
	CircuitBreakerEnabled.Set(1)
	CircuitBreakerConsecutiveFailures.Set(0)

	return breaker, nil
}

// Allow returns true if gateway calls may be dispatched.
// This is lock-free and safe to call from hot paths.
func (b *GatewayBreaker) Allow() (allowed bool) {
	return b.enabled.Load()
}

// RecordSuccess resets the failure run. A success while probing fully closes
// the breaker.
func (b *GatewayBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probing {
		b.probing = false
		b.logger.Info("circuit-breaker-recovered")
	}
	b.consecutiveFailures = 0
	CircuitBreakerConsecutiveFailures.Set(0)
}

// RecordFailure counts a transient gateway failure and trips the breaker when
// the threshold is reached, or immediately while probing.
func (b *GatewayBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = b.now()
	CircuitBreakerConsecutiveFailures.Set(float64(b.consecutiveFailures))

	if !b.enabled.Load() {
		return
	}

	if b.probing || b.consecutiveFailures >= b.failureThreshold {
		b.enabled.Store(false)
		b.trippedAt = b.now()
		b.probing = false
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()

		b.logger.Warn("circuit-breaker-tripped",
			zap.Int("consecutive-failures", b.consecutiveFailures),
			zap.Int("failure-threshold", b.failureThreshold),
			zap.Duration("cooldown", b.cooldown))
	}
}

// CheckCooldown re-enables a tripped breaker once the cooldown has elapsed.
// It reports whether the state changed.
func (b *GatewayBreaker) CheckCooldown() (reenabled bool) {
	if b.enabled.Load() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.enabled.Load() || b.now().Sub(b.trippedAt) < b.cooldown {
		return false
	}

	b.probing = true
	b.enabled.Store(true)
	CircuitBreakerEnabled.Set(1)
	CircuitBreakerStateChanges.Inc()

	b.logger.Info("circuit-breaker-probing",
		zap.Time("tripped-at", b.trippedAt),
		zap.Int("consecutive-failures", b.consecutiveFailures))

	return true
}

// Start begins the background loop that re-enables the breaker after cooldown.
// This runs until the context is cancelled.
func (b *GatewayBreaker) Start(ctx context.Context) {
	b.logger.Info("circuit-breaker-started",
		zap.Int("failure-threshold", b.failureThreshold),
		zap.Duration("cooldown", b.cooldown),
		zap.Duration("check-interval", b.checkInterval))

	go b.monitorLoop(ctx)
}

func (b *GatewayBreaker) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("circuit-breaker-stopped")
			return
		case <-ticker.C:
			b.CheckCooldown()
		}
	}
}

// GetStatus returns current circuit breaker status for debugging and HTTP endpoints.
func (b *GatewayBreaker) GetStatus() (status Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status = Status{
		Enabled:             b.enabled.Load(),
		Probing:             b.probing,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.failureThreshold,
		TrippedAt:           b.trippedAt,
		LastFailure:         b.lastFailure,
	}

	return status
}
