package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/order-reconciler/internal/registry"
	"go.uber.org/zap"
)

// ReportSink receives every completed sweep report. Implementations must not
// block for long; the scheduler calls them inline.
type ReportSink interface {
	HandleReport(ctx context.Context, report *SweepReport)
}

// Scheduler runs sweeps on an interval and on demand. On-demand triggers that
// arrive while one is already pending are coalesced into it.
type Scheduler struct {
	engine   *Engine
	registry *registry.Registry
	params   ParamsSource
	interval time.Duration
	sinks    []ReportSink
	trigger  chan string
	now      func() time.Time
	logger   *zap.Logger
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Engine   *Engine
	Registry *registry.Registry
	Params   ParamsSource
	Interval time.Duration
	Sinks    []ReportSink
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		params:   cfg.Params,
		interval: cfg.Interval,
		sinks:    cfg.Sinks,
		trigger:  make(chan string, 1),
		now:      now,
		logger:   logger,
	}, nil
}

// Trigger requests an asynchronous sweep, optionally for one symbol. It returns
// false if a trigger was already pending and this one was coalesced into it.
func (s *Scheduler) Trigger(symbol string) bool {
	select {
	case s.trigger <- symbol:
		return true
	default:
		TriggersCoalescedTotal.Inc()
		return false
	}
}

// RunNow runs a sweep synchronously and publishes its report.
func (s *Scheduler) RunNow(ctx context.Context, symbol string) (*SweepReport, error) {
	var (
		report *SweepReport
		err    error
	)
	if symbol == "" {
		report, err = s.engine.Sweep(ctx)
	} else {
		report, err = s.engine.SweepSymbol(ctx, symbol)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, report)
	return report, nil
}

// Run sweeps every interval and on each trigger until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sweep-scheduler-started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep-scheduler-stopped")
			return nil
		case <-ticker.C:
			s.runScheduled(ctx, "")
		case symbol := <-s.trigger:
			s.runScheduled(ctx, symbol)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, symbol string) {
	_, err := s.RunNow(ctx, symbol)
	if err == nil {
		return
	}

	if errors.Is(err, ErrSweepInProgress) {
		s.logger.Debug("sweep-skipped-in-progress", zap.Error(err))
		return
	}
	s.logger.Error("sweep-failed", zap.Error(err))
}

// publish hands the report to every sink and prunes old terminal records.
func (s *Scheduler) publish(ctx context.Context, report *SweepReport) {
	for _, sink := range s.sinks {
		sink.HandleReport(ctx, report)
	}

	if s.registry != nil && s.params != nil {
		pruned := s.registry.Prune(s.now(), s.params.Current().TombstoneRetention)
		if pruned > 0 {
			s.logger.Debug("tombstones-pruned", zap.Int("count", pruned))
		}
	}
}
