package app

import (
	"context"

	"github.com/mselser95/order-reconciler/internal/alert"
	"github.com/mselser95/order-reconciler/internal/circuitbreaker"
	"github.com/mselser95/order-reconciler/internal/exchange"
	"github.com/mselser95/order-reconciler/internal/lock"
	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/internal/registry"
	"github.com/mselser95/order-reconciler/internal/storage"
	"github.com/mselser95/order-reconciler/internal/tracker"
	"github.com/mselser95/order-reconciler/pkg/cache"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/healthprobe"
	"github.com/mselser95/order-reconciler/pkg/httpserver"
	"github.com/mselser95/order-reconciler/pkg/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	loader        config.Loader
	params        *config.Holder
	registry      *registry.Registry
	tracker       *tracker.Tracker
	gateway       reconcile.Gateway
	submitter     tracker.Submitter
	paper         *exchange.PaperGateway // set in paper mode
	wsManager     *websocket.Manager     // set in live mode
	symbols       *symbolWatcher         // set in live mode
	breaker       *circuitbreaker.GatewayBreaker
	locker        *lock.RedisLock // nil when no Redis is configured
	engine        *reconcile.Engine
	scheduler     *reconcile.Scheduler
	store         storage.Storage
	journal       *storage.Journal
	alertCache    *cache.RistrettoCache
	alerter       *alert.Alerter
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	ctx           context.Context
	cancel        context.CancelFunc
	group         *errgroup.Group
	groupCtx      context.Context
}

// Options holds application options.
type Options struct {
	// ParamsFile overrides cfg.ParamsFile when set.
	ParamsFile string
	// Loader replaces the file loader entirely. Used by tests.
	Loader config.Loader
}

// Registry returns the order registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Tracker returns the order tracker used to submit orders.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// Engine returns the reconciliation engine.
func (a *App) Engine() *reconcile.Engine {
	return a.engine
}

// Scheduler returns the sweep scheduler.
func (a *App) Scheduler() *reconcile.Scheduler {
	return a.scheduler
}

// Params returns the parameter holder.
func (a *App) Params() *config.Holder {
	return a.params
}

// Paper returns the simulated gateway, or nil in live mode.
func (a *App) Paper() *exchange.PaperGateway {
	return a.paper
}

// Store returns the journal backend.
func (a *App) Store() storage.Storage {
	return a.store
}
