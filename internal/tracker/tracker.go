// Package tracker keeps the registry in step with what the bot submits and
// with the updates the exchange pushes back.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/order-reconciler/internal/registry"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPositionLimit is returned when a submission would open a position in a
// new symbol while max_active_positions symbols already have active orders.
var ErrPositionLimit = errors.New("max active positions reached")

// Submitter places orders on the exchange.
type Submitter interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error)
}

// ParamsSource supplies the active parameter snapshot.
type ParamsSource interface {
	Current() *config.Snapshot
}

// Tracker records submissions and applies exchange events to the registry.
type Tracker struct {
	registry  *registry.Registry
	submitter Submitter
	params    ParamsSource
	now       func() time.Time
	logger    *zap.Logger
}

// Config holds tracker configuration. Submitter may be nil for a tracker that
// only consumes events.
type Config struct {
	Registry  *registry.Registry
	Submitter Submitter
	Params    ParamsSource
	Now       func() time.Time
	Logger    *zap.Logger
}

// New creates a new Tracker.
func New(cfg *Config) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("params source cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		registry:  cfg.Registry,
		submitter: cfg.Submitter,
		params:    cfg.Params,
		now:       now,
		logger:    cfg.Logger,
	}, nil
}

// Submit registers a Pending record under a fresh correlation id, places the
// order and re-keys the record to the exchange id on acknowledgment.
//
// A permanent rejection removes the record. A transient failure leaves it
// Pending with the error noted: the order may exist on the exchange, so it
// stays visible to the sweep and to a late acknowledgment event.
func (t *Tracker) Submit(ctx context.Context, req types.OrderRequest) (rec types.OrderRecord, err error) {
	if t.submitter == nil {
		return types.OrderRecord{}, fmt.Errorf("submit order: no submitter configured")
	}
	if req.Symbol == "" {
		return types.OrderRecord{}, fmt.Errorf("submit order: empty symbol")
	}
	if !req.Quantity.IsPositive() {
		return types.OrderRecord{}, fmt.Errorf("submit order: quantity must be positive, got %s", req.Quantity)
	}

	snap := t.params.Current()
	active := t.registry.ActiveSymbols()
	if _, held := active[req.Symbol]; !held && len(active) >= snap.MaxActivePositions {
		SubmissionsTotal.WithLabelValues("position_limit").Inc()
		return types.OrderRecord{}, fmt.Errorf("submit order for %s: %w (%d/%d)",
			req.Symbol, ErrPositionLimit, len(active), snap.MaxActivePositions)
	}

	// The client id doubles as the local registry key until acknowledgment,
	// so an event that beats the submit response can still find the record.
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.New().String()
	}
	localID := req.ClientOrderID
	if _, exists := t.registry.Get(localID); exists {
		return types.OrderRecord{}, fmt.Errorf("submit order %s: %w", localID, registry.ErrDuplicateID)
	}

	rec = types.OrderRecord{
		ID:             localID,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		FilledQuantity: decimal.Zero,
		Status:         types.StatusPending,
		CreatedAt:      t.now().UTC(),
	}
	err = t.registry.Upsert(rec)
	if err != nil {
		return types.OrderRecord{}, fmt.Errorf("register order: %w", err)
	}

	res, err := t.submitter.SubmitOrder(ctx, req)
	if err != nil {
		if types.IsPermanent(err) {
			SubmissionsTotal.WithLabelValues("rejected").Inc()
			removeErr := t.registry.Remove(localID)
			if removeErr != nil && !errors.Is(removeErr, registry.ErrNotFound) {
				t.logger.Error("order-remove-failed", zap.String("order-id", localID), zap.Error(removeErr))
			}
			t.logger.Warn("order-rejected",
				zap.String("client-order-id", req.ClientOrderID),
				zap.String("symbol", req.Symbol),
				zap.Error(err))
			return types.OrderRecord{}, fmt.Errorf("submit order: %w", err)
		}

		SubmissionsTotal.WithLabelValues("ambiguous").Inc()
		updated, updateErr := t.registry.Update(localID, func(r *types.OrderRecord) error {
			r.LastError = err.Error()
			return nil
		})
		if updateErr != nil {
			t.logger.Debug("order-annotate-failed", zap.String("order-id", localID), zap.Error(updateErr))
			if got, found := t.registry.Get(localID); found {
				updated = got
			} else {
				updated = rec
			}
		}
		rec = updated
		t.logger.Warn("order-submit-ambiguous",
			zap.String("order-id", localID),
			zap.String("symbol", req.Symbol),
			zap.Error(err))
		return rec, fmt.Errorf("submit order: %w", err)
	}

	status := res.Status
	if status == "" || status == types.StatusPending {
		status = types.StatusOpen
	}

	rec, err = t.registry.Acknowledge(localID, res.OrderID, status)
	if err != nil {
		// An event may have acknowledged the order first.
		got, found := t.registry.Get(res.OrderID)
		if found && errors.Is(err, registry.ErrNotFound) {
			SubmissionsTotal.WithLabelValues("acknowledged").Inc()
			return got, nil
		}
		return types.OrderRecord{}, fmt.Errorf("acknowledge order %s: %w", res.OrderID, err)
	}

	SubmissionsTotal.WithLabelValues("acknowledged").Inc()
	t.logger.Info("order-acknowledged",
		zap.String("order-id", rec.ID),
		zap.String("client-order-id", rec.ClientOrderID),
		zap.String("symbol", rec.Symbol),
		zap.String("status", string(rec.Status)))

	return rec, nil
}

// HandleEvent applies one exchange update. Events for a Pending record that
// carry its client id acknowledge it first. Duplicate events for an order
// already in the same terminal state are ignored.
func (t *Tracker) HandleEvent(ev types.OrderEvent) error {
	if ev.OrderID == "" {
		EventsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("handle event: empty order id")
	}
	if !ev.Status.IsValid() {
		EventsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("handle event for %s: unknown status %q", ev.OrderID, ev.Status)
	}

	current, ok := t.registry.Get(ev.OrderID)
	if !ok && ev.ClientOrderID != "" {
		pending, found := t.registry.Get(ev.ClientOrderID)
		if found && pending.Status == types.StatusPending {
			acked, err := t.registry.Acknowledge(ev.ClientOrderID, ev.OrderID, types.StatusOpen)
			if err != nil && !errors.Is(err, registry.ErrNotFound) {
				EventsTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("acknowledge order %s from event: %w", ev.OrderID, err)
			}
			current, ok = acked, err == nil
			if !ok {
				current, ok = t.registry.Get(ev.OrderID)
			}
		}
	}
	if !ok {
		EventsTotal.WithLabelValues("unknown").Inc()
		t.logger.Debug("order-event-unknown",
			zap.String("order-id", ev.OrderID),
			zap.String("client-order-id", ev.ClientOrderID),
			zap.String("status", string(ev.Status)))
		return fmt.Errorf("handle event for %s: %w", ev.OrderID, registry.ErrNotFound)
	}

	if current.Status.IsTerminal() && current.Status == ev.Status {
		EventsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	checkedAt := ev.Timestamp
	if checkedAt.IsZero() {
		checkedAt = t.now()
	}

	updated, err := t.registry.Update(ev.OrderID, func(r *types.OrderRecord) error {
		if ev.Status != types.StatusPending {
			r.Status = ev.Status
		}
		if ev.FilledQuantity.GreaterThan(r.FilledQuantity) {
			r.FilledQuantity = ev.FilledQuantity
		}
		if r.Status == types.StatusFilled && r.FilledQuantity.IsZero() {
			r.FilledQuantity = r.Quantity
		}
		r.LastCheckedAt = checkedAt.UTC()
		return nil
	})
	if err != nil {
		EventsTotal.WithLabelValues("error").Inc()
		var violation *types.TerminalStateViolation
		if errors.As(err, &violation) {
			t.logger.Error("order-event-after-terminal",
				zap.String("order-id", ev.OrderID),
				zap.String("current-status", string(violation.From)),
				zap.String("event-status", string(ev.Status)))
		}
		return fmt.Errorf("apply event for %s: %w", ev.OrderID, err)
	}

	EventsTotal.WithLabelValues("applied").Inc()
	t.logger.Debug("order-event-applied",
		zap.String("order-id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("filled-quantity", updated.FilledQuantity.String()))
	return nil
}

// Ingest parses a wire event and applies it.
func (t *Tracker) Ingest(raw types.RawOrderEvent) error {
	ev, err := ParseEvent(raw)
	if err != nil {
		EventsTotal.WithLabelValues("invalid").Inc()
		t.logger.Warn("order-event-invalid",
			zap.String("order-id", raw.OrderID),
			zap.Error(err))
		return err
	}
	return t.HandleEvent(ev)
}

// ParseEvent converts a wire event, normalizing its timestamp to UTC.
func ParseEvent(raw types.RawOrderEvent) (ev types.OrderEvent, err error) {
	status, ok := types.ParseExchangeStatus(raw.Status)
	if !ok {
		return types.OrderEvent{}, fmt.Errorf("parse event for %s: unknown status %q", raw.OrderID, raw.Status)
	}

	filled := decimal.Zero
	if raw.FilledQuantity != "" {
		filled, err = decimal.NewFromString(raw.FilledQuantity)
		if err != nil {
			return types.OrderEvent{}, fmt.Errorf("parse event for %s: filled quantity: %w", raw.OrderID, err)
		}
	}

	var ts time.Time
	if raw.Timestamp != "" {
		ts, err = timestamp.Normalize(raw.Timestamp)
		if err != nil {
			return types.OrderEvent{}, fmt.Errorf("parse event for %s: %w", raw.OrderID, err)
		}
	}

	return types.OrderEvent{
		OrderID:        raw.OrderID,
		ClientOrderID:  raw.ClientOrderID,
		Status:         status,
		FilledQuantity: filled,
		Timestamp:      ts,
	}, nil
}

// Restore loads previously journaled records into the registry. Terminal
// records are skipped. Returns how many records were restored.
func (t *Tracker) Restore(records []types.OrderRecord) (restored int, err error) {
	var errs []error
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		upsertErr := t.registry.Upsert(rec)
		if upsertErr != nil {
			errs = append(errs, fmt.Errorf("restore order %s: %w", rec.ID, upsertErr))
			continue
		}
		restored++
	}

	t.logger.Info("orders-restored",
		zap.Int("restored", restored),
		zap.Int("failed", len(errs)),
		zap.Int("total", len(records)))
	return restored, errors.Join(errs...)
}

// Consume applies parsed events until ctx is done or events is closed.
func (t *Tracker) Consume(ctx context.Context, events <-chan types.OrderEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err := t.HandleEvent(ev)
			if err != nil {
				t.logger.Debug("order-event-not-applied", zap.Error(err))
			}
		}
	}
}

// ConsumeRaw applies wire events until ctx is done or events is closed.
func (t *Tracker) ConsumeRaw(ctx context.Context, events <-chan *types.RawOrderEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			if raw == nil {
				continue
			}
			err := t.Ingest(*raw)
			if err != nil {
				t.logger.Debug("order-event-not-applied", zap.Error(err))
			}
		}
	}
}
