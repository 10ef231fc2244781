// Package app builds the long-lived crawl services from configuration and
// hands them to the CLI commands.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/cache"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/tree"
)

const closeTimeout = 5 * time.Second

// catalogStore is what every storage backend provides.
type catalogStore interface {
	crawler.ProductStore
	crawler.CategoryStore
}

// App holds the services shared by the crawl and discover commands.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    crawler.Clock
	fetcher  crawler.Fetcher
	store    catalogStore
	tree     *tree.Tree
	cache    crawler.Invalidator
	pacer    crawler.Pacer
	ids      crawler.IDGenerator
	progress *progress.Hub
	snapshot *sinks.SnapshotSink
	checks   map[string]api.Check
	closers  []func()
}

// New builds every service named by cfg. Progress lines are written to out
// when it is non-nil.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),
		checks: map[string]api.Check{},
	}

	var err error
	if a.store, err = a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.cache, err = a.buildCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.fetcher, err = a.buildFetcher(); err != nil {
		a.Close()
		return nil, err
	}
	a.tree = tree.New(a.store, logger)
	a.pacer = ratelimit.NewPacer(cfg.Crawl.Delay, cfg.Crawl.Jitter)

	a.snapshot = sinks.NewSnapshotSink()
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), a.snapshot}
	if out != nil {
		hubSinks = append(hubSinks, sinks.NewConsoleSink(out))
	}
	a.progress = progress.NewHub(progress.Config{Clock: a.clock, Logger: logger}, hubSinks...)

	logger.Info("application services initialized",
		zap.String("fetcher", cfg.Fetcher.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("cache", cfg.Cache.Backend),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (catalogStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			ProductsTable:   a.cfg.DB.ProductsTable,
			CategoriesTable: a.cfg.DB.CategoriesTable,
			ChunkSize:       a.cfg.Storage.ChunkSize,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.checks["store"] = store.Ping
		return store, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, sqlite.Options{
			Path:      a.cfg.SQLite.Path,
			ChunkSize: a.cfg.Storage.ChunkSize,
			Clock:     a.clock,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close sqlite store", zap.Error(err))
			}
		})
		a.checks["store"] = store.Ping
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory store; nothing will be persisted")
		return memory.NewStore(a.clock), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

func (a *App) buildCache(ctx context.Context) (crawler.Invalidator, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addrs:       a.cfg.Cache.Addrs,
			MasterName:  a.cfg.Cache.MasterName,
			Username:    a.cfg.Cache.Username,
			Password:    a.cfg.Cache.Password,
			DB:          a.cfg.Cache.DB,
			Prefix:      a.cfg.Cache.Prefix,
			DialTimeout: a.cfg.Cache.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close redis client", zap.Error(err))
			}
		})
		inv := cache.NewRedisInvalidator(client, a.cfg.Cache.Prefix, a.logger)
		a.checks["cache"] = inv.Ping
		return inv, nil
	case config.BackendNone, "":
		return cache.NewNoop(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", a.cfg.Cache.Backend)
	}
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	h := a.cfg.HTTP
	switch a.cfg.Fetcher.Mode {
	case config.FetcherHTTP, "":
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgent:       h.UserAgent,
			AcceptLanguage:  h.AcceptLanguage,
			Referer:         h.Referer,
			Headers:         h.Headers,
			Timeout:         h.Timeout,
			BlockedStatuses: h.BlockedStatuses,
			MaxRetries:      h.MaxRetries,
			RetryDelay:      h.RetryDelay,
			RespectRobots:   h.RespectRobots,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init http fetcher: %w", err)
		}
		return f, nil
	case config.FetcherHeadless:
		hc := a.cfg.Headless
		var limiter *ratelimit.Limiter
		if hc.DomainQPS > 0 {
			limiter = ratelimit.New(ratelimit.Config{DefaultRPS: hc.DomainQPS, DefaultBurst: hc.DomainBurst})
		}
		f, err := headless.New(headless.Config{
			RemoteURL:         hc.RemoteURL,
			MaxParallel:       hc.MaxParallel,
			UserAgent:         h.UserAgent,
			AcceptLanguage:    h.AcceptLanguage,
			Referer:           h.Referer,
			Headers:           h.Headers,
			ConnectTimeout:    hc.ConnectTimeout,
			NavigationTimeout: hc.NavigationTimeout,
			SettleDelay:       hc.SettleDelay,
			BlockedStatuses:   h.BlockedStatuses,
			MaxRetries:        h.MaxRetries,
			RetryDelay:        h.RetryDelay,
		}, detector.New(hc.Markers, 0), limiter, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		return f, nil
	default:
		return nil, fmt.Errorf("unknown fetcher mode: %s", a.cfg.Fetcher.Mode)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Tree returns the category tree over the configured store.
func (a *App) Tree() *tree.Tree {
	return a.tree
}

// Progress returns the hub that receives crawl reports.
func (a *App) Progress() *progress.Hub {
	return a.progress
}

// Orchestrator builds a crawl orchestrator for one site. Extractors resolve
// relative links against baseURL.
func (a *App) Orchestrator(baseURL string, opts crawler.Options) (*crawler.Orchestrator, error) {
	ex := a.cfg.Extract
	categories, err := extract.NewCategoryExtractor(extract.CategoryConfig{
		BaseURL:   baseURL,
		Whitelist: ex.CategoryWhitelist,
	})
	if err != nil {
		return nil, fmt.Errorf("init category extractor: %w", err)
	}
	products, err := extract.NewProductExtractor(extract.ProductConfig{
		BaseURL:         baseURL,
		Selector:        ex.ProductSelector,
		CTAPhrases:      ex.CTAPhrases,
		Brands:          ex.Brands,
		DefaultCurrency: ex.DefaultCurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("init product extractor: %w", err)
	}
	orch, err := crawler.NewOrchestrator(
		a.fetcher,
		categories,
		products,
		a.store,
		a.tree,
		a.cache,
		a.pacer,
		a.ids,
		a.progress,
		opts,
		a.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}

// ServeOps starts the ops HTTP server when server.metrics_addr is set. The
// returned function stops it and waits for shutdown.
func (a *App) ServeOps(ctx context.Context) func() {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := api.NewServer(a.snapshot, a.checks, a.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx, addr); err != nil {
			a.logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close flushes progress and releases every service. It is safe to call more
// than once.
func (a *App) Close() {
	if a.progress != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.progress.Close(ctx); err != nil {
			a.logger.Warn("close progress hub", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
