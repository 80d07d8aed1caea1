package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mselser95/order-reconciler/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// subscribeRetryInterval is how often symbols whose subscription failed are retried.
const subscribeRetryInterval = 5 * time.Second

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	snap := a.params.Current()
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.ExecutionMode),
		zap.String("storage", a.cfg.StorageMode),
		zap.Duration("sweep-interval", a.cfg.SweepInterval),
		zap.Duration("stale-threshold", snap.StaleOrderThreshold),
		zap.Uint64("params-version", snap.Version),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.Start()
	if err != nil {
		_ = a.Shutdown()
		return err
	}

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Int("active-orders", a.registry.ActiveCount()))

	return a.waitForShutdown()
}

// Start launches every component in the background. The first component to
// fail cancels the others; waitForShutdown picks that up.
func (a *App) Start() error {
	a.group, a.groupCtx = errgroup.WithContext(a.ctx)

	a.group.Go(func() error {
		err := a.httpServer.Start()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	err := a.startOrderStream()
	if err != nil {
		return fmt.Errorf("start order stream: %w", err)
	}

	a.breaker.Start(a.groupCtx)

	a.group.Go(func() error {
		return a.scheduler.Run(a.groupCtx)
	})

	a.healthChecker.SetReady(true)
	return nil
}

func (a *App) startOrderStream() error {
	if a.paper != nil {
		a.group.Go(func() error {
			a.tracker.Consume(a.groupCtx, a.paper.Events())
			return nil
		})
		return nil
	}

	err := a.wsManager.Start()
	if err != nil {
		return err
	}

	a.group.Go(func() error {
		a.tracker.ConsumeRaw(a.groupCtx, a.wsManager.MessageChan())
		return nil
	})

	// Restored orders were observed before the stream existed.
	for _, rec := range a.registry.AllActive() {
		a.symbols.add(rec.Symbol)
	}
	a.group.Go(func() error {
		a.runSymbolSubscriber(a.groupCtx)
		return nil
	})

	return nil
}

// runSymbolSubscriber subscribes the order stream to every symbol that gains
// an active order.
func (a *App) runSymbolSubscriber(ctx context.Context) {
	ticker := time.NewTicker(subscribeRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.symbols.notify:
		case <-ticker.C:
		}

		symbols := a.symbols.take()
		if len(symbols) == 0 {
			continue
		}

		err := a.wsManager.Subscribe(ctx, symbols)
		if err != nil {
			a.logger.Warn("order-stream-subscribe-failed",
				zap.Strings("symbols", symbols),
				zap.Error(err))
			a.symbols.requeue(symbols)
		}
	}
}

// Reload re-reads the trading parameters. An invalid parameter set leaves
// the current snapshot in place.
func (a *App) Reload() (*config.Snapshot, error) {
	return a.params.Reload(a.loader)
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				_, _ = a.Reload()
				continue
			}
			a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
			return a.Shutdown()
		case <-a.groupCtx.Done():
			a.logger.Info("context-cancelled")
			return a.Shutdown()
		}
	}
}
