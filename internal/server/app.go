// Package server builds the gateway's dependencies and runs its HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgate/internal/api"
	"github.com/JakeFAU/crawlgate/internal/auth"
	"github.com/JakeFAU/crawlgate/internal/clock"
	"github.com/JakeFAU/crawlgate/internal/config"
	"github.com/JakeFAU/crawlgate/internal/crawl"
	"github.com/JakeFAU/crawlgate/internal/dispatcher"
	"github.com/JakeFAU/crawlgate/internal/engine"
	collyfetcher "github.com/JakeFAU/crawlgate/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawlgate/internal/fetcher/headless"
	"github.com/JakeFAU/crawlgate/internal/keycache"
	"github.com/JakeFAU/crawlgate/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlgate/internal/registry"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	gate      *auth.Gate
	apiServer *api.Server
	postgres  *registry.Postgres
	redis     *redis.Client
	headless  *headlessfetcher.Fetcher
}

// Gate returns the auth gate, for commands that validate keys without serving.
func (a *App) Gate() *auth.Gate {
	return a.gate
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.String("fail_policy", cfg.Cache.FailPolicy),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	client, err := app.setupRegistry(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	cache, err := app.setupCache(ctx, client)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.gate = auth.NewGate(cache, logger)

	eng, err := app.setupEngine()
	if err != nil {
		app.Close()
		return nil, err
	}
	disp := dispatcher.New(app.gate, crawl.NewAdapter(eng, logger), dispatcher.Config{
		MaxConcurrent:   cfg.Dispatcher.MaxConcurrent,
		Deadline:        cfg.CrawlDeadline(),
		SiteDeadline:    cfg.SiteDeadline(),
		SiteMaxPages:    cfg.Crawler.SiteMaxPages,
		SiteParallelism: cfg.Crawler.SiteParallelism,
	}, clock.New(), logger)

	app.apiServer = api.NewServer(app.gate, disp, api.KeyRequestInfo{
		Message: cfg.Auth.RequestMessage,
		Contact: cfg.Auth.Contact,
	}, logger, api.WithAllowedOrigins(cfg.Server.CORSOrigins...))
	return app, nil
}

func (a *App) setupRegistry(ctx context.Context) (registry.Client, error) {
	switch a.cfg.Registry.Backend {
	case config.BackendPostgres:
		pg, err := registry.NewPostgres(ctx, registry.PostgresConfig{
			DSN:     a.cfg.Registry.DSN,
			Table:   a.cfg.Registry.Table,
			Timeout: a.cfg.RegistryTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres registry init failed: %w", err)
		}
		a.postgres = pg
		a.logger.Info("using postgres key registry", zap.String("table", a.cfg.Registry.Table))
		return pg, nil
	default:
		at, err := registry.NewAirtable(registry.AirtableConfig{
			BaseURL:     a.cfg.Registry.BaseURL,
			Token:       a.cfg.Registry.Token,
			BaseID:      a.cfg.Registry.BaseID,
			Table:       a.cfg.Registry.Table,
			KeyField:    a.cfg.Registry.KeyField,
			ActiveField: a.cfg.Registry.ActiveField,
			Timeout:     a.cfg.RegistryTimeout(),
			Limiter: ratelimit.New(ratelimit.Config{
				Scope: "registry",
				RPS:   a.cfg.Registry.RatePerSecond,
				Burst: 1,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("airtable registry init failed: %w", err)
		}
		a.logger.Info("using airtable key registry",
			zap.String("base_id", a.cfg.Registry.BaseID),
			zap.String("table", a.cfg.Registry.Table),
		)
		return at, nil
	}
}

func (a *App) setupCache(ctx context.Context, client registry.Client) (*keycache.Cache, error) {
	policy, err := keycache.ParseFailPolicy(a.cfg.Cache.FailPolicy)
	if err != nil {
		return nil, err
	}
	var shared keycache.SharedStore
	if a.cfg.Cache.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// The shared tier is optional; lookups fall through to the registry.
			a.logger.Warn("redis ping failed", zap.String("addr", a.cfg.Cache.RedisAddr), zap.Error(err))
		}
		shared = keycache.NewRedisStore(a.redis, a.cfg.Cache.RedisPrefix)
		a.logger.Info("using redis shared key cache", zap.String("addr", a.cfg.Cache.RedisAddr))
	}
	cache, err := keycache.New(client, keycache.Config{
		TTL:           a.cfg.CacheTTL(),
		NegativeTTL:   a.cfg.NegativeCacheTTL(),
		MaxEntries:    a.cfg.Cache.MaxEntries,
		FailPolicy:    policy,
		LookupTimeout: a.cfg.RegistryTimeout(),
		Shared:        shared,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("key cache init failed: %w", err)
	}
	return cache, nil
}

func (a *App) setupEngine() (*engine.Engine, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.CrawlDeadline(),
		MaxBodyBytes:  a.cfg.Crawler.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))

	cfg := engine.Config{
		Static:   static,
		Detector: engine.NewDetector(0),
		Limiter: ratelimit.New(ratelimit.Config{
			Scope: "crawl_host",
			RPS:   a.cfg.Crawler.HostRatePerSec,
			Burst: a.cfg.Crawler.HostBurst,
		}),
		Logger: a.logger,
	}
	if a.cfg.Headless.Enabled {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = h
		cfg.Renderer = h
		a.logger.Info("using headless renderer", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return eng, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	if serveErr != nil {
		return fmt.Errorf("serve http: %w", serveErr)
	}
	return nil
}

// Close releases external clients.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	a.logger.Info("shutdown complete")
}
