package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	reports []*SweepReport
	signal  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{signal: make(chan struct{}, 16)}
}

func (s *recordingSink) HandleReport(_ context.Context, report *SweepReport) {
	s.mu.Lock()
	s.reports = append(s.reports, report)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *recordingSink) last() *SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 {
		return nil
	}
	return s.reports[len(s.reports)-1]
}

func newTestScheduler(t *testing.T, f *engineFixture, interval time.Duration, sinks ...ReportSink) *Scheduler {
	t.Helper()
	s, err := NewScheduler(&SchedulerConfig{
		Engine:   f.engine,
		Registry: f.registry,
		Params:   f.engine.params,
		Interval: interval,
		Sinks:    sinks,
		Now:      f.clock.Now,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return s
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(&SchedulerConfig{Interval: time.Second})
	assert.EqualError(t, err, "engine cannot be nil")

	f := newEngineFixture(t, nil)
	_, err = NewScheduler(&SchedulerConfig{Engine: f.engine})
	assert.EqualError(t, err, "interval must be positive")
}

func TestScheduler_RunNowPublishesReport(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addOrder(t, "o-1", 150*time.Second, types.StatusOpen)
	sink := newRecordingSink()
	s := newTestScheduler(t, f, time.Hour, sink)

	report, err := s.RunNow(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, sink.count())
	assert.Same(t, report, sink.last())
	assert.Equal(t, []string{"o-1"}, report.Cancelled)
}

func TestScheduler_RunNowSymbol(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addOrder(t, "o-1", 150*time.Second, types.StatusOpen)
	s := newTestScheduler(t, f, time.Hour)

	report, err := s.RunNow(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
	assert.Equal(t, "ETHUSDT", report.Symbol)
}

func TestScheduler_RunNowInProgressSkipsSinks(t *testing.T) {
	f := newEngineFixture(t, nil)
	sink := newRecordingSink()
	s := newTestScheduler(t, f, time.Hour, sink)

	f.engine.running.Lock()
	_, err := s.RunNow(context.Background(), "")
	f.engine.running.Unlock()

	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, 0, sink.count())
}

func TestScheduler_PrunesTombstonesAfterRetention(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addOrder(t, "o-1", 150*time.Second, types.StatusOpen)
	s := newTestScheduler(t, f, time.Hour)

	_, err := s.RunNow(context.Background(), "")
	require.NoError(t, err)
	_, ok := f.registry.Get("o-1")
	require.True(t, ok, "terminal record kept until retention passes")

	f.clock.Advance(f.snap.TombstoneRetention + time.Second)
	_, err = s.RunNow(context.Background(), "")
	require.NoError(t, err)

	_, ok = f.registry.Get("o-1")
	assert.False(t, ok)
}

func TestScheduler_TriggerCoalesces(t *testing.T) {
	f := newEngineFixture(t, nil)
	s := newTestScheduler(t, f, time.Hour)

	assert.True(t, s.Trigger(""))
	assert.False(t, s.Trigger("BTCUSDT"), "second trigger should coalesce into the pending one")
	assert.False(t, s.Trigger(""))
}

func TestScheduler_RunHandlesTriggers(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addOrder(t, "o-1", 150*time.Second, types.StatusOpen)
	sink := newRecordingSink()
	s := newTestScheduler(t, f, time.Hour, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	require.True(t, s.Trigger(""))

	select {
	case <-sink.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered sweep did not publish a report")
	}
	assert.Equal(t, []string{"o-1"}, sink.last().Cancelled)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RunSweepsOnInterval(t *testing.T) {
	f := newEngineFixture(t, nil)
	sink := newRecordingSink()
	s := newTestScheduler(t, f, 20*time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Run(ctx)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-sink.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("interval sweep %d did not run", i+1)
		}
	}
	assert.GreaterOrEqual(t, sink.count(), 2)
}
