package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/alerting"
	httpHandlers "github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/handlers"
	httpMiddleware "github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/middleware"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/memory"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/postgres"
	redisstorage "github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/redis"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/sqlite"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/config"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/services"
)

// durableStore é o que os dois backends relacionais oferecem.
type durableStore interface {
	ports.BlockStore
	ports.TierSource
	ports.TierWriter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters, closeCounters, err := initCounterStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init counter store: %w", err)
	}
	defer closeCounters()

	blocks, closeBlocks, err := initBlockStore(ctx, cfg.Storage.BlockStore)
	if err != nil {
		return fmt.Errorf("init block store: %w", err)
	}
	defer closeBlocks()

	var fallback ports.CounterStore
	if cfg.RateLimiter.LocalFallback {
		local := memory.New(memory.WithCleanupEvery(cfg.RateLimiter.JanitorInterval))
		local.StartJanitor(ctx)
		fallback = local
	}

	gate, err := services.NewIPGateService(counters, blocks, logger.Named("ip_gate"))
	if err != nil {
		return err
	}

	tiers := services.NewTierCache(blocks, cfg.RateLimiter.TierCacheTTL, logger.Named("tiers"))
	tierLimits := domain.DefaultTierLimits()

	limiter, err := services.NewRateLimiterService(counters,
		services.NewDefaultLimitResolver(tiers, tierLimits),
		services.Config{Scopes: cfg.RateLimiter.Scopes, Fallback: fallback, Audit: blocks},
		logger.Named("rate_limiter"))
	if err != nil {
		return err
	}

	quotas, err := services.NewQuotaService(counters, services.QuotaConfig{Tiers: tierLimits, Audit: blocks}, logger.Named("quota"))
	if err != nil {
		return err
	}

	sinks, err := initAlertSinks(cfg.Alerting, logger)
	if err != nil {
		return err
	}
	abuse, err := services.NewAbuseDetectorService(counters, gate, sinks, cfg.Abuse, logger.Named("abuse"))
	if err != nil {
		return err
	}

	var quotaManager ports.QuotaManager
	if cfg.Quota.Enabled {
		quotaManager = quotas
	}

	router := newRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		gate:     gate,
		limiter:  limiter,
		quotas:   quotas,
		quotaMgr: quotaManager,
		tiers:    tiers,
		abuse:    abuse,
		health:   map[string]httpHandlers.Pinger{
			"counters": counters,
			"blocks":   blocks,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	abuse.Wait()
	return nil
}

type routerDeps struct {
	cfg      config.Config
	logger   *zap.Logger
	gate     *services.IPGateService
	limiter  *services.RateLimiterService
	quotas   *services.QuotaService
	quotaMgr ports.QuotaManager
	tiers    *services.TierCache
	abuse    *services.AbuseDetectorService
	health   map[string]httpHandlers.Pinger
}

// newRouter monta a cadeia de admissão: IP do cliente, autenticação,
// observador de desfechos, portão de IPs e limite global. Rotas da API
// somam o escopo da categoria, o limite por usuário e a cota diária.
func newRouter(d routerDeps) http.Handler {
	limit := func(scope string) func(http.Handler) http.Handler {
		return httpMiddleware.NewRateLimiterMiddleware(d.limiter, scope, d.logger.Named("http"))
	}
	requireAdmin := httpMiddleware.RequireRole(domain.RoleAdmin)

	ipManagement := httpHandlers.NewIPManagementHandler(d.gate, d.logger.Named("ip_management"))
	monitoring := httpHandlers.NewMonitoringHandler(d.limiter, d.abuse, d.logger.Named("monitoring"))
	quotaHandler := httpHandlers.NewQuotaHandler(d.quotas, d.tiers, d.logger.Named("quota_admin"))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpMiddleware.NewClientIPMiddleware(d.cfg.Server.TrustProxy))
	r.Use(httpMiddleware.NewLoggingMiddleware(d.logger.Named("http")))

	r.Get("/healthz", httpHandlers.HealthHandler(d.health))

	r.Group(func(r chi.Router) {
		r.Use(httpMiddleware.NewAuthContextMiddleware())
		r.Use(httpMiddleware.NewOutcomeMiddleware(d.abuse))
		r.Use(httpMiddleware.NewIPGateMiddleware(d.gate))
		r.Use(limit("global"))

		r.Get("/test", httpHandlers.TestHandler)
		r.With(limit("user")).Get("/quota/usage", quotaHandler.Usage)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin, limit("admin"))
			r.Mount("/ip-management", ipManagement.Routes())
			r.Mount("/monitoring", monitoring.Routes())
			r.Mount("/admin", quotaHandler.AdminRoutes())
		})

		r.Route("/api", func(r chi.Router) {
			quota := httpMiddleware.NewQuotaMiddleware(d.quotaMgr, d.quotas, d.tiers, d.logger.Named("http"))
			// global, categoria, tier do usuário e só então a cota diária.
			admit := func(scope string, extra ...func(http.Handler) http.Handler) chi.Router {
				chain := []func(http.Handler) http.Handler{limit(scope)}
				chain = append(chain, extra...)
				return r.With(append(chain, limit("user"), quota)...)
			}
			demo := http.HandlerFunc(httpHandlers.TestHandler)

			admit("auth").Handle("/auth/*", demo)
			admit("refresh").Handle("/auth/refresh", demo)
			admit("analytics").Handle("/analytics/*", demo)
			admit("admin", requireAdmin).Handle("/admin/*", demo)
			admit("public").Handle("/public/*", demo)
			admit("webhook").Handle("/webhooks/*", demo)
			r.With(limit("user"), quota).Handle("/*", demo)
		})
	})

	return r
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func initCounterStore(cfg config.StorageConfig) (*redisstorage.Storage, func(), error) {
	storage, err := redisstorage.New(redisstorage.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.CounterTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return storage, func() { _ = storage.Close() }, nil
}

func initBlockStore(ctx context.Context, cfg config.BlockStoreConfig) (durableStore, func(), error) {
	switch cfg.Type {
	case "sqlite":
		store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Timeout: cfg.Timeout})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Timeout: cfg.Timeout})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported block store type: %s", cfg.Type)
	}
}

func initAlertSinks(cfg config.AlertingConfig, logger *zap.Logger) ([]ports.AlertSink, error) {
	sinks := []ports.AlertSink{alerting.NewLogSink(logger)}
	for _, url := range cfg.WebhookURLs {
		sink, err := alerting.NewWebhookSink(alerting.WebhookConfig{
			URL:           url,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
			Timeout:       cfg.Timeout,
			MinSeverity:   cfg.MinSeverity,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
