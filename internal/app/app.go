// Package app wires configuration into a running lingostream service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/lingostream/internal/cache"
	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/db"
	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/provider"
	"github.com/raphaelgruber/lingostream/internal/server"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// App holds the wired components of a server process.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Ledger    *ledger.Ledger
	Explainer *service.Explainer
	Scheduler *service.Scheduler
	Jobs      *service.JobManager
	Server    *server.Server

	db      *db.Client
	closers []func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	provider stream.Provider
}

// WithProvider replaces the configured model provider.
func WithProvider(p stream.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New connects the configured backends and builds the service graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, version string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewCollector()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	pricing, err := config.LoadPricing(cfg.PricingFile)
	if err != nil {
		return nil, err
	}

	if cfg.Storage == config.BackendSurreal || cfg.CacheBackend == config.BackendSurreal {
		if err := a.connectDB(ctx); err != nil {
			return nil, err
		}
	}

	var (
		ledgerStore ledger.Store
		segments    service.SegmentStore
		usage       service.UsageStore
	)
	switch cfg.Storage {
	case config.BackendSurreal:
		ledgerStore, segments, usage = a.db, a.db, a.db
	case config.BackendMemory:
		ledgerStore = ledger.NewMemoryStore()
		segments = service.NewMemorySegmentStore()
		usage = service.NewMemoryUsageStore()
		logger.Warn("using in-memory storage; balances and segments are lost on restart")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	explanations, err := a.buildCache(ctx)
	if err != nil {
		return nil, err
	}

	p := o.provider
	if p == nil {
		if p, err = provider.New(ctx, cfg); err != nil {
			return nil, fmt.Errorf("init provider: %w", err)
		}
	}
	p = provider.WithMetrics(p, a.Metrics, logger)

	a.Ledger = ledger.New(ledgerStore, pricing, ledger.WithLogger(logger), ledger.WithMetrics(a.Metrics))
	a.Explainer = service.NewExplainer(segments, explanations, a.Ledger, p, usage, service.ExplainerConfig{
		Model:          cfg.Model,
		TargetLanguage: cfg.TargetLanguage,
		StreamTimeout:  cfg.StreamTimeout,
		Logger:         logger,
	})
	a.Jobs = service.NewJobManager(cfg.BatchRetention)
	a.Scheduler = service.NewScheduler(a.Explainer, a.Jobs, cfg.BatchConcurrency, logger,
		service.WithMaxConcurrency(cfg.BatchMaxConcurrency))
	a.Server = server.New(server.Deps{
		Explainer:   a.Explainer,
		Scheduler:   a.Scheduler,
		Ledger:      a.Ledger,
		Usage:       usage,
		Metrics:     a.Metrics,
		HoldTimeout: cfg.HoldTimeout,
		Version:     version,
		Logger:      logger,
	})

	logger.Info("service wired",
		"provider", p.Name(),
		"storage", cfg.Storage,
		"cache", cfg.CacheBackend,
		"hold", a.Ledger.HoldAmount(cfg.Model))
	ok = true
	return a, nil
}

func (a *App) connectDB(ctx context.Context) error {
	cfg := a.Config
	client, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, a.Logger, a.Metrics)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.db = client
	a.closers = append(a.closers, client.Close)

	if err := client.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// buildCache layers the in-process LRU in front of the durable backend.
func (a *App) buildCache(ctx context.Context) (cache.Cache, error) {
	cfg := a.Config
	front, err := cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("init memory cache: %w", err)
	}

	var c cache.Cache
	switch cfg.CacheBackend {
	case config.BackendMemory:
		c = front
	case config.BackendRedis:
		rdb, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		c = cache.NewTiered(front, cache.NewRedis(rdb, cfg.CacheTTL, a.Logger), a.Logger)
	case config.BackendSurreal:
		c = cache.NewTiered(front, a.db, a.Logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	return cache.WithMetrics(c, a.Metrics), nil
}

// RunBackground starts the hold reconciler and the batch job pruner. Both
// stop when ctx is cancelled.
func (a *App) RunBackground(ctx context.Context) {
	go a.Ledger.RunReconciler(ctx, a.Config.ReconcileInterval, a.Config.HoldTimeout)
	go a.Jobs.RunPruner(ctx, time.Minute)
}

// WipeData clears all persisted data. Only SurrealDB storage is affected.
func (a *App) WipeData(ctx context.Context) error {
	if a.db == nil {
		return errors.New("wipe requires surreal storage")
	}
	return a.db.WipeData(ctx)
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
