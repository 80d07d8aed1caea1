// Package registry is the in-memory source of truth for orders the bot has
// submitted. Writes to one order id are mutually exclusive; different ids
// proceed independently.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidRecord is returned for records that cannot enter the registry.
	ErrInvalidRecord = errors.New("invalid order record")

	// ErrInvalidTransition is returned for status moves the lifecycle forbids
	// outside of terminal states, such as returning to Pending.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateID is returned when re-keying onto an id already in use.
	ErrDuplicateID = errors.New("order id already registered")
)

// ChangeKind identifies what happened to a record.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
	ChangeRekeyed  ChangeKind = "rekeyed"
)

// Change describes one committed write.
type Change struct {
	Kind   ChangeKind
	Record types.OrderRecord
	// PreviousID is set for ChangeRekeyed.
	PreviousID string
}

// Observer is notified after every committed write, while the written id is
// still locked, so notifications for one id arrive in commit order.
// Implementations must not block or call back into the registry.
type Observer interface {
	Observe(change Change)
}

// entry owns one id. rec is guarded by mu; removed means the entry was
// unlinked from the map and callers must look the id up again.
type entry struct {
	mu      sync.Mutex
	rec     types.OrderRecord
	exists  bool
	removed bool
}

type indexItem struct {
	createdAt time.Time
	id        string
	rec       types.OrderRecord
}

func lessIndexItem(a, b indexItem) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id < b.id
}

// Registry maps order ids to records. Active records are also held in an index
// ordered by (CreatedAt, ID) so AllActive returns them oldest-first.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	active     *btree.BTreeG[indexItem]
	tombstones map[string]time.Time // id -> ResolvedAt

	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// Config holds registry configuration.
type Config struct {
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

// New creates an empty registry.
func New(cfg *Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		entries:    make(map[string]*entry),
		active:     btree.NewG[indexItem](32, lessIndexItem),
		tombstones: make(map[string]time.Time),
		observer:   cfg.Observer,
		now:        now,
		logger:     logger,
	}
}

// lockEntry returns the entry for id with its mutex held. When create is set a
// placeholder entry is linked in for unknown ids; otherwise nil is returned.
func (r *Registry) lockEntry(id string, create bool) *entry {
	for {
		var e *entry
		if create {
			r.mu.Lock()
			e = r.entries[id]
			if e == nil {
				e = &entry{}
				r.entries[id] = e
			}
			r.mu.Unlock()
		} else {
			r.mu.RLock()
			e = r.entries[id]
			r.mu.RUnlock()
			if e == nil {
				return nil
			}
		}

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

func validateRecord(rec *types.OrderRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if rec.CreatedAt.IsZero() {
		return fmt.Errorf("%w: order %s has no created_at", ErrInvalidRecord, rec.ID)
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("%w: order %s has unknown status %q", ErrInvalidRecord, rec.ID, rec.Status)
	}
	return nil
}

func checkTransition(id string, from, to types.OrderStatus) error {
	if from.IsTerminal() {
		TerminalViolationsTotal.Inc()
		return &types.TerminalStateViolation{OrderID: id, From: from, To: to}
	}
	if to == types.StatusPending && from != types.StatusPending {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, id, from, to)
	}
	return nil
}

// commit stores next in e and keeps the index and tombstone set in step.
// Caller holds e.mu.
func (r *Registry) commit(e *entry, next types.OrderRecord, op string) {
	if next.Status.IsTerminal() && next.ResolvedAt.IsZero() {
		next.ResolvedAt = r.now().UTC()
	}

	r.mu.Lock()
	if e.exists && !e.rec.Status.IsTerminal() {
		r.active.Delete(indexItem{createdAt: e.rec.CreatedAt, id: e.rec.ID})
	}
	if next.Status.IsTerminal() {
		r.tombstones[next.ID] = next.ResolvedAt
	} else {
		r.active.ReplaceOrInsert(indexItem{createdAt: next.CreatedAt, id: next.ID, rec: next})
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	e.rec = next
	e.exists = true

	WritesTotal.WithLabelValues(op).Inc()
	r.notify(Change{Kind: ChangeUpserted, Record: next})
}

func (r *Registry) updateGaugesLocked() {
	ActiveOrders.Set(float64(r.active.Len()))
	Tombstones.Set(float64(len(r.tombstones)))
}

func (r *Registry) notify(change Change) {
	if r.observer != nil {
		r.observer.Observe(change)
	}
}

// Upsert inserts rec or replaces the stored record for rec.ID. It fails with
// *types.TerminalStateViolation when the stored record is terminal.
func (r *Registry) Upsert(rec types.OrderRecord) error {
	err := validateRecord(&rec)
	if err != nil {
		return err
	}

	e := r.lockEntry(rec.ID, true)
	defer e.mu.Unlock()

	if e.exists {
		err = checkTransition(rec.ID, e.rec.Status, rec.Status)
		if err != nil {
			var violation *types.TerminalStateViolation
			if errors.As(err, &violation) {
				r.logger.Error("terminal-state-violation",
					zap.String("order-id", rec.ID),
					zap.String("from", string(violation.From)),
					zap.String("to", string(violation.To)))
			}
			return err
		}
	}

	r.commit(e, rec, "upsert")
	return nil
}

// Update applies fn to a copy of the record for id and commits the result if
// fn returns nil and the transition is allowed. The id stays locked for the
// duration of fn, so fn must not call back into the registry.
func (r *Registry) Update(id string, fn func(rec *types.OrderRecord) error) (types.OrderRecord, error) {
	e := r.lockEntry(id, false)
	if e == nil {
		return types.OrderRecord{}, fmt.Errorf("update order %s: %w", id, ErrNotFound)
	}
	defer e.mu.Unlock()

	if !e.exists {
		return types.OrderRecord{}, fmt.Errorf("update order %s: %w", id, ErrNotFound)
	}

	// Read-modify-write callers race with fill events; a record resolved
	// first is reported to them but not counted as a violation.
	current := e.rec
	if current.Status.IsTerminal() {
		return current, &types.TerminalStateViolation{OrderID: id, From: current.Status, To: current.Status}
	}

	next := current
	err := fn(&next)
	if err != nil {
		return current, err
	}

	if next.ID != current.ID || !next.CreatedAt.Equal(current.CreatedAt) {
		return current, fmt.Errorf("%w: order %s id and created_at are immutable", ErrInvalidRecord, id)
	}
	err = validateRecord(&next)
	if err != nil {
		return current, err
	}
	err = checkTransition(id, current.Status, next.Status)
	if err != nil {
		return current, err
	}

	r.commit(e, next, "update")
	return e.rec, nil
}

// Acknowledge re-keys a record from its local correlation id to the id the
// exchange assigned, applying status in the same step.
func (r *Registry) Acknowledge(localID, exchangeID string, status types.OrderStatus) (types.OrderRecord, error) {
	if exchangeID == "" {
		return types.OrderRecord{}, fmt.Errorf("%w: empty exchange id", ErrInvalidRecord)
	}
	if localID == exchangeID {
		return r.Update(localID, func(rec *types.OrderRecord) error {
			rec.Status = status
			return nil
		})
	}

	old := r.lockEntry(localID, false)
	if old == nil {
		return types.OrderRecord{}, fmt.Errorf("acknowledge order %s: %w", localID, ErrNotFound)
	}
	defer old.mu.Unlock()

	if !old.exists {
		return types.OrderRecord{}, fmt.Errorf("acknowledge order %s: %w", localID, ErrNotFound)
	}
	if old.rec.Status.IsTerminal() {
		TerminalViolationsTotal.Inc()
		return old.rec, &types.TerminalStateViolation{OrderID: localID, From: old.rec.Status, To: status}
	}
	err := checkTransition(localID, old.rec.Status, status)
	if err != nil {
		return old.rec, err
	}

	next := old.rec
	next.ID = exchangeID
	if next.ClientOrderID == "" {
		next.ClientOrderID = localID
	}
	next.Status = status
	if next.Status.IsTerminal() && next.ResolvedAt.IsZero() {
		next.ResolvedAt = r.now().UTC()
	}

	fresh := &entry{rec: next, exists: true}
	fresh.mu.Lock()
	defer fresh.mu.Unlock()

	r.mu.Lock()
	if _, taken := r.entries[exchangeID]; taken {
		r.mu.Unlock()
		return old.rec, fmt.Errorf("acknowledge order %s as %s: %w", localID, exchangeID, ErrDuplicateID)
	}
	r.entries[exchangeID] = fresh
	delete(r.entries, localID)
	r.active.Delete(indexItem{createdAt: old.rec.CreatedAt, id: localID})
	if next.Status.IsTerminal() {
		r.tombstones[exchangeID] = next.ResolvedAt
	} else {
		r.active.ReplaceOrInsert(indexItem{createdAt: next.CreatedAt, id: exchangeID, rec: next})
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	old.removed = true

	WritesTotal.WithLabelValues("acknowledge").Inc()
	r.notify(Change{Kind: ChangeRekeyed, Record: next, PreviousID: localID})

	return next, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (types.OrderRecord, bool) {
	e := r.lockEntry(id, false)
	if e == nil {
		return types.OrderRecord{}, false
	}
	defer e.mu.Unlock()

	if !e.exists {
		return types.OrderRecord{}, false
	}
	return e.rec, true
}

// Remove drops id from the registry, terminal or not.
func (r *Registry) Remove(id string) error {
	e := r.lockEntry(id, false)
	if e == nil {
		return fmt.Errorf("remove order %s: %w", id, ErrNotFound)
	}
	defer e.mu.Unlock()

	if !e.exists {
		return fmt.Errorf("remove order %s: %w", id, ErrNotFound)
	}

	r.unlinkLocked(e, id)

	WritesTotal.WithLabelValues("remove").Inc()
	r.notify(Change{Kind: ChangeRemoved, Record: e.rec})
	return nil
}

// unlinkLocked removes e from the map, index and tombstones. Caller holds e.mu.
func (r *Registry) unlinkLocked(e *entry, id string) {
	r.mu.Lock()
	delete(r.entries, id)
	if !e.rec.Status.IsTerminal() {
		r.active.Delete(indexItem{createdAt: e.rec.CreatedAt, id: id})
	}
	delete(r.tombstones, id)
	r.updateGaugesLocked()
	r.mu.Unlock()

	e.removed = true
}

// AllActive returns every non-terminal record, oldest first.
func (r *Registry) AllActive() []types.OrderRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.OrderRecord, 0, r.active.Len())
	r.active.Ascend(func(item indexItem) bool {
		out = append(out, item.rec)
		return true
	})
	return out
}

// ActiveCount returns the number of non-terminal records.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Len()
}

// ActiveSymbols returns the number of non-terminal records per symbol.
func (r *Registry) ActiveSymbols() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	r.active.Ascend(func(item indexItem) bool {
		out[item.rec.Symbol]++
		return true
	})
	return out
}

// Len returns the number of records, tombstones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Prune drops terminal records resolved more than retention before now and
// returns how many were dropped.
func (r *Registry) Prune(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	r.mu.RLock()
	expired := make([]string, 0)
	for id, resolvedAt := range r.tombstones {
		if resolvedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	pruned := 0
	for _, id := range expired {
		e := r.lockEntry(id, false)
		if e == nil {
			continue
		}
		if e.exists && e.rec.Status.IsTerminal() && e.rec.ResolvedAt.Before(cutoff) {
			r.unlinkLocked(e, id)
			pruned++
		}
		e.mu.Unlock()
	}

	if pruned > 0 {
		WritesTotal.WithLabelValues("prune").Add(float64(pruned))
		r.logger.Debug("registry-pruned",
			zap.Int("pruned", pruned),
			zap.Duration("retention", retention))
	}

	return pruned
}
