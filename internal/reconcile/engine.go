// Package reconcile drives stale-order cleanup: it finds orders outstanding past
// the configured threshold, asks the exchange for their real state, cancels
// what is still open and writes the outcome back to the registry.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/order-reconciler/internal/lock"
	"github.com/mselser95/order-reconciler/internal/registry"
	"github.com/mselser95/order-reconciler/internal/staleness"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrSweepInProgress is returned when a sweep is requested while one is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Gateway is the part of the exchange the engine talks to. Errors should be
// *types.TransientGatewayError or *types.PermanentGatewayError; anything else
// is treated as transient.
type Gateway interface {
	QueryOrder(ctx context.Context, orderID string) (types.QueryResult, error)
	CancelOrder(ctx context.Context, orderID string) (types.CancelResult, error)
}

// Breaker gates dispatch when the gateway keeps failing.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// Locker guards sweeps across processes.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// ParamsSource supplies the active parameter snapshot.
type ParamsSource interface {
	Current() *config.Snapshot
}

type outcomeKind int

const (
	outcomeCancelled outcomeKind = iota
	outcomeResolved
	outcomeRetry
	outcomeExpired
	outcomeCancelFailed
	outcomeDeferred
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeCancelled:
		return "cancelled"
	case outcomeResolved:
		return "already_resolved"
	case outcomeRetry:
		return "transient_retry"
	case outcomeExpired:
		return "expired"
	case outcomeCancelFailed:
		return "cancel_failed"
	case outcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

type outcome struct {
	id   string
	kind outcomeKind
	op   string
	err  error
}

// Engine runs sweeps. At most one sweep runs at a time per engine, and per
// deployment when a Locker is configured.
type Engine struct {
	registry *registry.Registry
	gateway  Gateway
	params   ParamsSource
	breaker  Breaker
	locker   Locker
	now      func() time.Time
	logger   *zap.Logger

	running    sync.Mutex
	lastReport atomic.Pointer[SweepReport]
}

// Config holds engine configuration. Breaker and Locker are optional.
type Config struct {
	Registry *registry.Registry
	Gateway  Gateway
	Params   ParamsSource
	Breaker  Breaker
	Locker   Locker
	Now      func() time.Time
	Logger   *zap.Logger
}

// New creates a new Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
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

	return &Engine{
		registry: cfg.Registry,
		gateway:  cfg.Gateway,
		params:   cfg.Params,
		breaker:  cfg.Breaker,
		locker:   cfg.Locker,
		now:      now,
		logger:   cfg.Logger,
	}, nil
}

// Sweep runs one sweep over every stale order with the engine's gateway and
// the current parameters.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	return e.run(ctx, e.gateway, e.params.Current(), staleness.Filter{})
}

// SweepSymbol runs one sweep restricted to orders for symbol.
func (e *Engine) SweepSymbol(ctx context.Context, symbol string) (*SweepReport, error) {
	return e.run(ctx, e.gateway, e.params.Current(), staleness.Filter{Symbol: symbol})
}

// RunSweep runs one sweep against gw using snap.
func (e *Engine) RunSweep(ctx context.Context, gw Gateway, snap *config.Snapshot) (*SweepReport, error) {
	return e.run(ctx, gw, snap, staleness.Filter{})
}

// Preview returns the orders a sweep would address now, without calling the
// gateway or writing anything.
func (e *Engine) Preview(symbol string) staleness.Result {
	snap := e.params.Current()
	return staleness.FindStaleFiltered(e.registry.AllActive(), snap.ThresholdSeconds(), e.now().UTC(),
		staleness.Filter{Symbol: symbol})
}

// LastReport returns the report of the most recent completed sweep, or nil.
func (e *Engine) LastReport() *SweepReport {
	return e.lastReport.Load()
}

func (e *Engine) run(ctx context.Context, gw Gateway, snap *config.Snapshot, filter staleness.Filter) (report *SweepReport, err error) {
	if snap == nil {
		return nil, fmt.Errorf("run sweep: nil parameter snapshot")
	}

	if !e.running.TryLock() {
		SweepsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrSweepInProgress
	}
	defer e.running.Unlock()

	if e.locker != nil {
		release, lockErr := e.locker.Acquire(ctx)
		if lockErr != nil {
			if errors.Is(lockErr, lock.ErrLockHeld) {
				SweepsTotal.WithLabelValues("skipped").Inc()
				return nil, fmt.Errorf("%w: %w", ErrSweepInProgress, lockErr)
			}
			SweepsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("acquire sweep lock: %w", lockErr)
		}
		defer release()
	}

	SweepInProgress.Set(1)
	defer SweepInProgress.Set(0)

	started := e.now().UTC()
	report = newReport(uuid.New().String(), filter.Symbol, snap.Version, started)

	scan := staleness.FindStaleFiltered(e.registry.AllActive(), snap.ThresholdSeconds(), started, filter)
	for _, s := range scan.Skewed {
		report.Skewed = append(report.Skewed, s.Record.ID)
		e.logger.Warn("order-clock-skew",
			zap.String("sweep-id", report.SweepID),
			zap.String("order-id", s.Record.ID),
			zap.Time("created-at", s.Record.CreatedAt),
			zap.Duration("skew", s.Err.Skew))
	}
	report.Candidates = len(scan.Stale)

	e.logger.Info("sweep-started",
		zap.String("sweep-id", report.SweepID),
		zap.String("symbol", filter.Symbol),
		zap.Int("candidates", report.Candidates),
		zap.Int("skewed", len(report.Skewed)),
		zap.Uint64("params-version", snap.Version))

	dispatchCtx, cancel := context.WithTimeout(ctx, snap.SweepDeadline)
	defer cancel()

	for _, o := range e.dispatch(dispatchCtx, gw, snap, scan.Stale) {
		report.add(o)
	}

	report.FinishedAt = e.now().UTC()
	report.RemainingActive = e.registry.ActiveCount()
	remaining := staleness.FindStaleFiltered(e.registry.AllActive(), snap.ThresholdSeconds(), report.FinishedAt, filter)

	result := "complete"
	if report.Partial {
		result = "partial"
	}
	SweepsTotal.WithLabelValues(result).Inc()
	SweepDuration.Observe(report.Duration().Seconds())

	counts := report.Counts()
	e.logger.Info("sweep-completed",
		zap.String("sweep-id", report.SweepID),
		zap.Int("candidates", counts.Candidates),
		zap.Int("cancelled", counts.Cancelled),
		zap.Int("already-resolved", counts.AlreadyResolved),
		zap.Int("transient-retry", counts.TransientRetry),
		zap.Int("expired", counts.Expired),
		zap.Int("cancel-failed", counts.CancelFailed),
		zap.Int("deferred", counts.Deferred),
		zap.Bool("partial", report.Partial),
		zap.Int("remaining-active", report.RemainingActive),
		zap.Int("remaining-stale", len(remaining.Stale)),
		zap.Duration("duration", report.Duration()))

	e.lastReport.Store(report)
	return report, nil
}

// dispatch reconciles candidates oldest-first with bounded concurrency.
// Outcomes are returned in dispatch order. Once ctx is done (deadline or
// shutdown) or the breaker opens, the rest are deferred.
func (e *Engine) dispatch(ctx context.Context, gw Gateway, snap *config.Snapshot, cands []staleness.Candidate) []outcome {
	outcomes := make([]outcome, len(cands))
	sem := semaphore.NewWeighted(int64(snap.MaxConcurrentCalls))
	var wg sync.WaitGroup

	next := 0
	for ; next < len(cands); next++ {
		err := sem.Acquire(ctx, 1)
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		if e.breaker != nil && !e.breaker.Allow() {
			sem.Release(1)
			e.logger.Warn("sweep-breaker-open",
				zap.Int("deferred", len(cands)-next))
			break
		}

		wg.Add(1)
		go func(i int, c staleness.Candidate) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = e.reconcileOne(ctx, gw, snap, c)
		}(next, cands[next])
	}

	for i := next; i < len(cands); i++ {
		outcomes[i] = outcome{id: cands[i].Record.ID, kind: outcomeDeferred}
	}

	wg.Wait()
	return outcomes
}

// reconcileOne runs query-then-cancel for one stale order. Gateway calls run on
// a context detached from ctx so shutdown never interrupts them midway; each is
// bounded by the call timeout instead.
func (e *Engine) reconcileOne(ctx context.Context, gw Gateway, snap *config.Snapshot, c staleness.Candidate) outcome {
	id := c.Record.ID

	e.logger.Debug("order-reconciling",
		zap.String("order-id", id),
		zap.String("symbol", c.Record.Symbol),
		zap.String("status", string(c.Record.Status)),
		zap.String("age", timestamp.FormatAge(c.AgeSeconds)),
		zap.Int("retry-count", c.Record.RetryCount))

	q, err := e.query(ctx, gw, snap, id)
	if err != nil {
		if types.IsTransient(err) {
			return e.applyTransient(id, snap, "query", err)
		}
		return e.applyCancelFailed(id, "query", err)
	}

	switch q.Status {
	case types.StatusFilled:
		return e.applyResolved(id, types.StatusFilled, q)
	case types.StatusCancelled, types.StatusExpired:
		return e.applyResolved(id, types.StatusCancelled, q)
	case types.StatusPartiallyFilled:
		o, ok := e.applyPartialFill(id, q)
		if !ok {
			return o
		}
	}

	if ctx.Err() != nil {
		// Past the sweep deadline: no new cancel. The next sweep picks it up.
		return e.write(id, "cancel", nil, func(r *types.OrderRecord) outcomeKind {
			r.LastCheckedAt = e.now().UTC()
			return outcomeDeferred
		})
	}

	res, err := e.cancel(ctx, gw, snap, id)
	switch {
	case err != nil && types.IsTransient(err):
		return e.applyTransient(id, snap, "cancel", err)
	case err != nil:
		return e.applyCancelFailed(id, "cancel", err)
	case res.Success:
		return e.write(id, "cancel", nil, func(r *types.OrderRecord) outcomeKind {
			r.Status = types.StatusCancelled
			r.LastCheckedAt = e.now().UTC()
			r.LastError = ""
			e.logger.Info("order-cancelled",
				zap.String("order-id", id),
				zap.String("symbol", r.Symbol),
				zap.String("age", timestamp.FormatAge(c.AgeSeconds)))
			return outcomeCancelled
		})
	case res.Reason == types.ReasonRateLimited:
		return e.applyTransient(id, snap, "cancel",
			&types.TransientGatewayError{Op: "cancel", OrderID: id, Err: errors.New("rate limited")})
	case res.Reason == types.ReasonAlreadyClosed:
		// Lost a race with a fill or an out-of-band cancel; ask again.
		q, err = e.query(ctx, gw, snap, id)
		if err == nil && q.Status.IsTerminal() {
			status := q.Status
			if status == types.StatusExpired {
				status = types.StatusCancelled
			}
			return e.applyResolved(id, status, q)
		}
		return e.applyCancelFailed(id, "cancel", fmt.Errorf("cancel rejected: %s", res.Reason))
	default:
		return e.applyCancelFailed(id, "cancel", fmt.Errorf("cancel rejected: %s", res.Reason))
	}
}

func (e *Engine) query(ctx context.Context, gw Gateway, snap *config.Snapshot, id string) (types.QueryResult, error) {
	var res types.QueryResult
	err := e.call(ctx, snap, "query", id, func(callCtx context.Context) error {
		var callErr error
		res, callErr = gw.QueryOrder(callCtx, id)
		return callErr
	})
	return res, err
}

func (e *Engine) cancel(ctx context.Context, gw Gateway, snap *config.Snapshot, id string) (types.CancelResult, error) {
	var res types.CancelResult
	err := e.call(ctx, snap, "cancel", id, func(callCtx context.Context) error {
		var callErr error
		res, callErr = gw.CancelOrder(callCtx, id)
		return callErr
	})
	return res, err
}

// call runs fn with the per-call timeout. A call still running at the timeout
// is abandoned and reported as transient; its result is discarded.
func (e *Engine) call(ctx context.Context, snap *config.Snapshot, op, id string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snap.GatewayCallTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("%s timed out after %s: %w", op, snap.GatewayCallTimeout, callCtx.Err())
	}
	GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	err = classify(op, id, err)
	switch {
	case err == nil:
		GatewayCallsTotal.WithLabelValues(op, "ok").Inc()
	case types.IsTransient(err):
		GatewayCallsTotal.WithLabelValues(op, "transient").Inc()
	default:
		GatewayCallsTotal.WithLabelValues(op, "permanent").Inc()
	}

	if e.breaker != nil {
		if types.IsTransient(err) {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
	}

	return err
}

func classify(op, id string, err error) error {
	if err == nil || types.IsTransient(err) || types.IsPermanent(err) {
		return err
	}
	return &types.TransientGatewayError{Op: op, OrderID: id, Err: err}
}

// write applies fn to the record under its lock. A record that was resolved
// or removed concurrently counts as already resolved and is left alone.
func (e *Engine) write(id, op string, cause error, fn func(r *types.OrderRecord) outcomeKind) outcome {
	var kind outcomeKind
	_, err := e.registry.Update(id, func(r *types.OrderRecord) error {
		kind = fn(r)
		return nil
	})
	if err != nil {
		var violation *types.TerminalStateViolation
		if errors.As(err, &violation) || errors.Is(err, registry.ErrNotFound) {
			e.logger.Debug("order-resolved-concurrently",
				zap.String("order-id", id),
				zap.String("op", op),
				zap.Error(err))
			return outcome{id: id, kind: outcomeResolved, op: op}
		}

		e.logger.Error("sweep-registry-write-failed",
			zap.String("order-id", id),
			zap.String("op", op),
			zap.Error(err))
		return outcome{id: id, kind: outcomeCancelFailed, op: op, err: err}
	}

	return outcome{id: id, kind: kind, op: op, err: cause}
}

func (e *Engine) applyResolved(id string, status types.OrderStatus, q types.QueryResult) outcome {
	return e.write(id, "query", nil, func(r *types.OrderRecord) outcomeKind {
		r.Status = status
		r.LastCheckedAt = e.now().UTC()
		r.LastError = ""
		if q.FilledQuantity.GreaterThan(r.FilledQuantity) {
			r.FilledQuantity = q.FilledQuantity
		}
		if status == types.StatusFilled && r.FilledQuantity.IsZero() {
			r.FilledQuantity = r.Quantity
		}
		e.logger.Info("order-resolved-on-exchange",
			zap.String("order-id", id),
			zap.String("status", string(status)),
			zap.String("filled-quantity", r.FilledQuantity.String()))
		return outcomeResolved
	})
}

// applyPartialFill records a partial fill before the cancel. ok is false when
// the record could not be written, in which case o is the final outcome.
func (e *Engine) applyPartialFill(id string, q types.QueryResult) (o outcome, ok bool) {
	written := false
	o = e.write(id, "query", nil, func(r *types.OrderRecord) outcomeKind {
		r.Status = types.StatusPartiallyFilled
		if q.FilledQuantity.GreaterThan(r.FilledQuantity) {
			r.FilledQuantity = q.FilledQuantity
		}
		written = true
		return outcomeRetry
	})
	return o, written && o.err == nil
}

func (e *Engine) applyTransient(id string, snap *config.Snapshot, op string, cause error) outcome {
	return e.write(id, op, cause, func(r *types.OrderRecord) outcomeKind {
		r.RetryCount++
		r.LastCheckedAt = e.now().UTC()
		r.LastError = cause.Error()

		if r.RetryCount >= snap.MaxCancelRetries {
			r.Status = types.StatusExpired
			e.logger.Error("order-expired",
				zap.String("order-id", id),
				zap.String("symbol", r.Symbol),
				zap.Int("retry-count", r.RetryCount),
				zap.Int("max-retries", snap.MaxCancelRetries),
				zap.Error(cause))
			return outcomeExpired
		}

		e.logger.Warn("order-reconcile-transient",
			zap.String("order-id", id),
			zap.String("op", op),
			zap.Int("retry-count", r.RetryCount),
			zap.Int("max-retries", snap.MaxCancelRetries),
			zap.Error(cause))
		return outcomeRetry
	})
}

func (e *Engine) applyCancelFailed(id, op string, cause error) outcome {
	return e.write(id, op, cause, func(r *types.OrderRecord) outcomeKind {
		r.Status = types.StatusCancelFailed
		r.LastCheckedAt = e.now().UTC()
		r.LastError = cause.Error()
		e.logger.Error("order-cancel-failed",
			zap.String("order-id", id),
			zap.String("op", op),
			zap.Error(cause))
		return outcomeCancelFailed
	})
}
