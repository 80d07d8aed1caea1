package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/internal/registry"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

type journalOp int

const (
	opStoreOrder journalOp = iota
	opDeleteOrder
	opStoreSweep
)

func (o journalOp) String() string {
	switch o {
	case opStoreOrder:
		return "store_order"
	case opDeleteOrder:
		return "delete_order"
	case opStoreSweep:
		return "store_sweep"
	default:
		return "unknown"
	}
}

type journalEntry struct {
	op     journalOp
	record types.OrderRecord
	id     string
	report *reconcile.SweepReport
}

// Journal writes registry changes and sweep reports to a Storage backend from
// a single background goroutine. It implements registry.Observer and
// reconcile.ReportSink; both enqueue without blocking and drop (with a
// counter) when the queue is full.
type Journal struct {
	store        Storage
	queue        chan journalEntry
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// JournalConfig holds journal configuration.
type JournalConfig struct {
	Store        Storage
	BufferSize   int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// NewJournal creates a journal and starts its writer goroutine.
func NewJournal(cfg *JournalConfig) (*Journal, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	j := &Journal{
		store:        cfg.Store,
		queue:        make(chan journalEntry, bufferSize),
		writeTimeout: writeTimeout,
		logger:       cfg.Logger,
		done:         make(chan struct{}),
	}

	go j.run()

	return j, nil
}

// Observe journals one committed registry write.
func (j *Journal) Observe(change registry.Change) {
	switch change.Kind {
	case registry.ChangeUpserted:
		j.enqueue(journalEntry{op: opStoreOrder, record: change.Record})
	case registry.ChangeRemoved:
		j.enqueue(journalEntry{op: opDeleteOrder, id: change.Record.ID})
	case registry.ChangeRekeyed:
		j.enqueue(journalEntry{op: opDeleteOrder, id: change.PreviousID})
		j.enqueue(journalEntry{op: opStoreOrder, record: change.Record})
	}
}

// HandleReport journals a completed sweep.
func (j *Journal) HandleReport(ctx context.Context, report *reconcile.SweepReport) {
	if report == nil {
		return
	}
	j.enqueue(journalEntry{op: opStoreSweep, report: report})
}

func (j *Journal) enqueue(e journalEntry) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		JournalDroppedTotal.WithLabelValues("closed").Inc()
		return
	}

	select {
	case j.queue <- e:
		JournalQueueDepth.Set(float64(len(j.queue)))
	default:
		JournalDroppedTotal.WithLabelValues("queue_full").Inc()
		j.logger.Warn("journal-queue-full", zap.String("op", e.op.String()))
	}
}

func (j *Journal) run() {
	defer close(j.done)

	for e := range j.queue {
		JournalQueueDepth.Set(float64(len(j.queue)))
		j.write(e)
	}
}

func (j *Journal) write(e journalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), j.writeTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch e.op {
	case opStoreOrder:
		err = j.store.StoreOrder(ctx, e.record)
	case opDeleteOrder:
		err = j.store.DeleteOrder(ctx, e.id)
	case opStoreSweep:
		err = j.store.StoreSweep(ctx, e.report)
	}
	WriteDurationSeconds.WithLabelValues(e.op.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		WritesTotal.WithLabelValues(e.op.String(), "error").Inc()
		j.logger.Error("journal-write-failed",
			zap.String("op", e.op.String()),
			zap.Error(err))
		return
	}
	WritesTotal.WithLabelValues(e.op.String(), "ok").Inc()
}

// Close stops accepting entries, drains the queue and closes the store.
// The drain is bounded by ctx.
func (j *Journal) Close(ctx context.Context) (err error) {
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.queue)
		j.mu.Unlock()

		select {
		case <-j.done:
		case <-ctx.Done():
			j.logger.Warn("journal-drain-timeout", zap.Int("pending", len(j.queue)))
		}

		err = j.store.Close()
	})
	return err
}
