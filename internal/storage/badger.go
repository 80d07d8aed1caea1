package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

const (
	orderPrefix = "order/"
	sweepPrefix = "sweep/"
)

// BadgerStorage implements Storage on an embedded Badger key-value store.
// Orders live under "order/<id>" and sweeps under "sweep/<started-at>/<id>",
// so a reverse prefix scan yields the newest sweeps first.
type BadgerStorage struct {
	db     *badger.DB
	logger *zap.Logger
}

// BadgerConfig holds Badger configuration.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

// NewBadgerStorage opens (or creates) the Badger store.
func NewBadgerStorage(cfg *BadgerConfig) (*BadgerStorage, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if !cfg.InMemory && strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	cfg.Logger.Info("badger-storage-opened",
		zap.String("path", cfg.Path),
		zap.Bool("in-memory", cfg.InMemory))

	return &BadgerStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// StoreOrder writes the record under its id.
func (b *BadgerStorage) StoreOrder(ctx context.Context, rec types.OrderRecord) error {
	val, err := json.Marshal(toRow(rec))
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", rec.ID, err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(orderPrefix+rec.ID), val)
	})
	if err != nil {
		return fmt.Errorf("store order %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteOrder removes the record with id.
func (b *BadgerStorage) DeleteOrder(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(orderPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// StoreSweep writes the report keyed by start time.
func (b *BadgerStorage) StoreSweep(ctx context.Context, report *reconcile.SweepReport) error {
	val, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := fmt.Sprintf("%s%020d/%s", sweepPrefix, report.StartedAt.UnixNano(), report.SweepID)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("store sweep %s: %w", report.SweepID, err)
	}
	return nil
}

// LoadActive returns every non-terminal record, oldest first.
func (b *BadgerStorage) LoadActive(ctx context.Context) (records []types.OrderRecord, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(orderPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var row orderRow
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if row.Status.IsTerminal() {
				continue
			}
			records = append(records, row.record())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// RecentSweeps returns up to limit sweep reports, newest first.
func (b *BadgerStorage) RecentSweeps(ctx context.Context, limit int) (reports []*reconcile.SweepReport, err error) {
	if limit <= 0 {
		return nil, nil
	}

	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(sweepPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= seek key.
		for it.Seek([]byte(sweepPrefix + "\xff")); it.Valid() && len(reports) < limit; it.Next() {
			var report reconcile.SweepReport
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &report)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			reports = append(reports, &report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	return reports, nil
}

// Close flushes and closes the store.
func (b *BadgerStorage) Close() error {
	b.logger.Info("closing-badger-storage")
	return b.db.Close()
}
