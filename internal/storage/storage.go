// Package storage journals order records and sweep reports so the active set
// survives a restart. Backends: console (no persistence), PostgreSQL and an
// embedded Badger store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("storage closed")

// Storage is the interface for persisting order state and sweep history.
type Storage interface {
	// StoreOrder inserts or replaces the record keyed by rec.ID.
	StoreOrder(ctx context.Context, rec types.OrderRecord) error

	// DeleteOrder removes the record with id. Missing ids are not an error.
	DeleteOrder(ctx context.Context, id string) error

	// StoreSweep appends a sweep report.
	StoreSweep(ctx context.Context, report *reconcile.SweepReport) error

	// LoadActive returns every stored record that is not terminal.
	LoadActive(ctx context.Context) ([]types.OrderRecord, error)

	// Close closes the storage connection.
	Close() error
}

// SweepHistory is implemented by backends that can list past sweeps.
type SweepHistory interface {
	RecentSweeps(ctx context.Context, limit int) ([]*reconcile.SweepReport, error)
}

// orderRow is the serialized form of an OrderRecord.
type orderRow struct {
	ID             string            `json:"id"`
	ClientOrderID  string            `json:"client_order_id,omitempty"`
	Symbol         string            `json:"symbol"`
	Side           types.Side        `json:"side,omitempty"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Price          decimal.Decimal   `json:"price"`
	FilledQuantity decimal.Decimal   `json:"filled_quantity"`
	Status         types.OrderStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	LastCheckedAt  time.Time         `json:"last_checked_at"`
	ResolvedAt     time.Time         `json:"resolved_at"`
	RetryCount     int               `json:"retry_count"`
	LastError      string            `json:"last_error,omitempty"`
}

func toRow(rec types.OrderRecord) orderRow {
	return orderRow{
		ID:             rec.ID,
		ClientOrderID:  rec.ClientOrderID,
		Symbol:         rec.Symbol,
		Side:           rec.Side,
		Quantity:       rec.Quantity,
		Price:          rec.Price,
		FilledQuantity: rec.FilledQuantity,
		Status:         rec.Status,
		CreatedAt:      rec.CreatedAt,
		LastCheckedAt:  rec.LastCheckedAt,
		ResolvedAt:     rec.ResolvedAt,
		RetryCount:     rec.RetryCount,
		LastError:      rec.LastError,
	}
}

func (r orderRow) record() types.OrderRecord {
	return types.OrderRecord{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		Symbol:         r.Symbol,
		Side:           r.Side,
		Quantity:       r.Quantity,
		Price:          r.Price,
		FilledQuantity: r.FilledQuantity,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt.UTC(),
		LastCheckedAt:  r.LastCheckedAt,
		ResolvedAt:     r.ResolvedAt,
		RetryCount:     r.RetryCount,
		LastError:      r.LastError,
	}
}
