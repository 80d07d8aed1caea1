package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. It returns the error of the
// first component that failed while running, if any.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Closing the stream closes its channel, which ends the event consumer.
	if a.wsManager != nil {
		err = a.wsManager.Close()
		if err != nil {
			a.logger.Error("websocket-manager-close-error", zap.Error(err))
		}
	}

	var runErr error
	if a.group != nil {
		runErr = a.group.Wait()
		if runErr != nil {
			a.logger.Error("component-failed", zap.Error(runErr))
		}
	}

	// The journal flushes queued writes, then closes the store.
	err = a.journal.Close(shutdownCtx)
	if err != nil {
		a.logger.Error("journal-close-error", zap.Error(err))
	}

	a.closeResources()

	a.logger.Info("application-shutdown-complete")

	return runErr
}

// closeResources releases what New acquired besides the journal. It tolerates
// a partially built App.
func (a *App) closeResources() {
	if a.journal == nil && a.store != nil {
		err := a.store.Close()
		if err != nil {
			a.logger.Error("storage-close-error", zap.Error(err))
		}
	}
	if a.journal != nil && a.httpServer == nil {
		// setup failed after the journal started
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.journal.Close(closeCtx)
	}
	if a.locker != nil {
		err := a.locker.Close()
		if err != nil {
			a.logger.Error("sweep-lock-close-error", zap.Error(err))
		}
	}
	if a.alertCache != nil {
		a.alertCache.Close()
	}
}
