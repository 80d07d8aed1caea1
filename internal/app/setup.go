package app

import (
	"context"
	"fmt"
	"os"
	"time"

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
)

// New creates a new application instance. Persisted orders are restored into
// the registry before New returns; nothing runs until Run or Start.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:    cfg,
		logger: logger,
		loader: setupLoader(cfg, opts),
		ctx:    ctx,
		cancel: cancel,
	}

	err := a.setup()
	if err != nil {
		cancel()
		a.closeResources()
		return nil, err
	}

	return a, nil
}

func (a *App) setup() (err error) {
	a.params, err = config.Load(a.loader, a.logger)
	if err != nil {
		return fmt.Errorf("setup params: %w", err)
	}

	a.healthChecker = setupHealthChecker()

	a.store, err = setupStorage(a.ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	a.journal, err = storage.NewJournal(&storage.JournalConfig{
		Store:      a.store,
		BufferSize: a.cfg.JournalBufferSize,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup journal: %w", err)
	}

	observers := observerList{a.journal}
	if a.cfg.ExecutionMode == "live" {
		a.symbols = newSymbolWatcher()
		observers = append(observers, a.symbols)
	}
	a.registry = registry.New(&registry.Config{
		Logger:   a.logger,
		Observer: observers,
	})

	err = a.setupGateway()
	if err != nil {
		return fmt.Errorf("setup gateway: %w", err)
	}

	a.tracker, err = tracker.New(&tracker.Config{
		Registry:  a.registry,
		Submitter: a.submitter,
		Params:    a.params,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup tracker: %w", err)
	}

	err = a.restoreOrders()
	if err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}

	a.breaker, err = circuitbreaker.New(&circuitbreaker.Config{
		FailureThreshold: a.cfg.BreakerFailureThreshold,
		Cooldown:         a.cfg.BreakerCooldown,
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup circuit breaker: %w", err)
	}

	a.locker, err = setupLocker(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup sweep lock: %w", err)
	}

	engineCfg := &reconcile.Config{
		Registry: a.registry,
		Gateway:  a.gateway,
		Params:   a.params,
		Breaker:  a.breaker,
		Logger:   a.logger,
	}
	if a.locker != nil {
		engineCfg.Locker = a.locker
	}
	a.engine, err = reconcile.New(engineCfg)
	if err != nil {
		return fmt.Errorf("setup engine: %w", err)
	}

	a.alertCache, a.alerter, err = setupAlerter(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup alerter: %w", err)
	}

	a.scheduler, err = reconcile.NewScheduler(&reconcile.SchedulerConfig{
		Engine:   a.engine,
		Registry: a.registry,
		Params:   a.params,
		Interval: a.cfg.SweepInterval,
		Sinks:    []reconcile.ReportSink{a.journal, a.alerter},
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup scheduler: %w", err)
	}

	a.registerHealthChecks()
	a.httpServer = a.setupHTTPServer()

	return nil
}

func setupLoader(cfg *config.Config, opts *Options) config.Loader {
	if opts.Loader != nil {
		return opts.Loader
	}
	path := cfg.ParamsFile
	if opts.ParamsFile != "" {
		path = opts.ParamsFile
	}
	return config.FileLoader(path)
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageMode {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := storage.NewPostgresStorage(connectCtx, &storage.PostgresConfig{
			DSN:    cfg.PostgresDSN(),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "badger":
		store, err := storage.NewBadgerStorage(&storage.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewConsoleStorage(logger), nil
	}
}

func (a *App) setupGateway() error {
	if a.cfg.ExecutionMode != "live" {
		a.paper = exchange.NewPaperGateway(a.logger)
		a.gateway = a.paper
		a.submitter = a.paper
		a.logger.Info("gateway-configured", zap.String("mode", "paper"))
		return nil
	}

	client, err := exchange.NewClient(&exchange.ClientConfig{
		BaseURL:    a.cfg.ExchangeBaseURL,
		APIKey:     a.cfg.ExchangeAPIKey,
		Secret:     a.cfg.ExchangeSecret,
		Passphrase: a.cfg.ExchangePassphrase,
		Timeout:    a.cfg.ExchangeTimeout,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("create exchange client: %w", err)
	}
	a.gateway = client
	a.submitter = client

	a.wsManager = websocket.New(websocket.Config{
		URL:                   a.cfg.ExchangeWSURL,
		APIKey:                a.cfg.ExchangeAPIKey,
		Passphrase:            a.cfg.ExchangePassphrase,
		DialTimeout:           a.cfg.WSDialTimeout,
		PongTimeout:           a.cfg.WSPongTimeout,
		PingInterval:          a.cfg.WSPingInterval,
		ReconnectInitialDelay: a.cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     a.cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  a.cfg.WSReconnectBackoffMult,
		MessageBufferSize:     a.cfg.WSMessageBufferSize,
		Logger:                a.logger,
	})

	a.logger.Info("gateway-configured",
		zap.String("mode", "live"),
		zap.String("base-url", a.cfg.ExchangeBaseURL))
	return nil
}

// restoreOrders reloads the active orders journaled by a previous run.
func (a *App) restoreOrders() error {
	loadCtx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	records, err := a.store.LoadActive(loadCtx)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	_, err = a.tracker.Restore(records)
	if err != nil {
		// Partial restores are not fatal: the rest of the book is still usable.
		a.logger.Warn("orders-restore-incomplete", zap.Error(err))
	}
	return nil
}

func setupLocker(cfg *config.Config, logger *zap.Logger) (*lock.RedisLock, error) {
	if cfg.RedisAddr == "" {
		logger.Info("sweep-lock-disabled", zap.String("reason", "REDIS_ADDR not set"))
		return nil, nil
	}

	return lock.New(&lock.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.SweepLockTTL,
		Logger:   logger,
	})
}

func setupAlerter(cfg *config.Config, logger *zap.Logger) (*cache.RistrettoCache, *alert.Alerter, error) {
	senders := []alert.Sender{alert.NewConsoleSender(os.Stdout, logger)}

	if cfg.AlertDiscordWebhookURL != "" {
		discord, err := alert.NewDiscordSender(cfg.AlertDiscordWebhookURL, 10*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("create discord sender: %w", err)
		}
		senders = append(senders, discord)
	}

	dedup, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "alert-dedup",
		NumCounters: 10000,
		MaxCost:     1000,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create dedup cache: %w", err)
	}

	alerter, err := alert.New(&alert.Config{
		Senders:  senders,
		Dedup:    dedup,
		DedupTTL: cfg.AlertDedupTTL,
		Logger:   logger,
	})
	if err != nil {
		dedup.Close()
		return nil, nil, err
	}

	return dedup, alerter, nil
}

func (a *App) registerHealthChecks() {
	if a.wsManager != nil {
		a.healthChecker.AddCheck("order-stream", func(ctx context.Context) error {
			if !a.wsManager.Connected() {
				return fmt.Errorf("not connected")
			}
			return nil
		})
	}
	if a.locker != nil {
		a.healthChecker.AddCheck("redis", a.locker.Ping)
	}
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		a.healthChecker.AddCheck("postgres", pinger.Ping)
	}
}

func (a *App) setupHTTPServer() *httpserver.Server {
	apiCfg := &httpserver.APIConfig{
		Orders:  a.registry,
		Sweeper: a.scheduler,
		Preview: a.engine,
		Params:  a.params,
		Reload:  a.Reload,
		Breaker: a.breaker,
		Logger:  a.logger,
	}
	if history, ok := a.store.(storage.SweepHistory); ok {
		apiCfg.History = history
	}

	return httpserver.New(&httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		API:           httpserver.NewAPIHandler(apiCfg),
	})
}
