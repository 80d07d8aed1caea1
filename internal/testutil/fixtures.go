package testutil

import (
	"sync"
	"time"

	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
)

// BaseTime is the fixed "now" most tests run at.
var BaseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// CreateTestOrder creates an order record created age before now.
func CreateTestOrder(id string, symbol string, age time.Duration, now time.Time, status types.OrderStatus) types.OrderRecord {
	return types.OrderRecord{
		ID:             id,
		ClientOrderID:  "client-" + id,
		Symbol:         symbol,
		Side:           types.SideBuy,
		Quantity:       decimal.RequireFromString("10"),
		Price:          decimal.RequireFromString("0.52"),
		FilledQuantity: decimal.Zero,
		Status:         status,
		CreatedAt:      now.Add(-age).UTC(),
	}
}

// StaticParams serves a fixed snapshot.
type StaticParams struct {
	Snapshot *config.Snapshot
}

// Current returns the fixed snapshot.
func (p StaticParams) Current() *config.Snapshot {
	return p.Snapshot
}

// CreateTestSnapshot returns a validated snapshot with a 120s threshold and
// small timeouts suited to tests.
func CreateTestSnapshot(mutate func(raw *config.RawParameters)) *config.Snapshot {
	raw := config.DefaultParameters()
	raw.StaleOrderThresholdSeconds = 120
	raw.MaxCancelRetries = 3
	raw.MaxConcurrentCalls = 4
	raw.GatewayCallTimeoutMs = 500
	raw.SweepDeadlineSeconds = 5
	if mutate != nil {
		mutate(&raw)
	}

	snap, err := config.Validate(raw)
	if err != nil {
		panic(err)
	}
	snap.Version = 1
	snap.LoadedAt = BaseTime
	return snap
}
