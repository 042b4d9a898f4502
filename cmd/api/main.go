package main

import (
	"context"
	"log/slog"
	"os"

	apirouter "github.com/ledgerly-hq/ledgerly/internal/router"
	"github.com/ledgerly-hq/ledgerly/internal/auth"
	"github.com/ledgerly-hq/ledgerly/internal/config"
	"github.com/ledgerly-hq/ledgerly/internal/database"
	"github.com/ledgerly-hq/ledgerly/internal/events"
	mw "github.com/ledgerly-hq/ledgerly/internal/middleware"
	"github.com/ledgerly-hq/ledgerly/internal/quota"
	iredis "github.com/ledgerly-hq/ledgerly/internal/redis"
	"github.com/ledgerly-hq/ledgerly/internal/retention"
	"github.com/ledgerly-hq/ledgerly/internal/server"
	"github.com/ledgerly-hq/ledgerly/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("migrating database", "error", err)
		os.Exit(1)
	}

	// NATS event bus (optional)
	var publisher *events.Publisher
	var eventsHealthy func() bool
	if cfg.NATS.Enabled() {
		natsClient, err := events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = events.NewPublisher(natsClient.JetStream())
		eventsHealthy = natsClient.Healthy
	}

	// Quota engine
	catalog := quota.DefaultCatalog()
	quotaRepo := quota.NewRepository(pool)
	counters := quota.NewCounterStore(pool)
	gate := quota.NewGate()
	violations := quota.NewViolationLog(pool)
	subs := subscription.NewService(pool)

	engine, err := quota.NewEngine(catalog, quotaRepo, counters, gate, violations, subs, publisher)
	if err != nil {
		slog.Error("building quota engine", "error", err)
		os.Exit(1)
	}
	reporter := quota.NewReporter(counters, gate, violations)
	quotaHandler := quota.NewHandler(engine, reporter)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	// Public-route IP rate limiter (optional, redis-backed)
	routerCfg := apirouter.RouterConfig{}
	if cfg.Redis.Enabled() {
		redisClient, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter := mw.NewIPRateLimiter(redisClient, cfg.RateLimit.PublicMaxRequests, cfg.RateLimit.PublicWindowSec)
		routerCfg.PublicRateLimiter = limiter.Middleware
	}

	// Retention cleaner
	cleaner := retention.NewCleaner(pool, cfg.Quota)
	if err := cleaner.Start(); err != nil {
		slog.Error("starting retention cleaner", "error", err)
		os.Exit(1)
	}
	defer cleaner.Stop()

	// Router
	router := apirouter.NewRouter(pool, routerCfg, apirouter.HandlerSet{
		GetUsage:        quotaHandler.GetUsage,
		GetLimits:       quotaHandler.GetLimits,
		GetHistory:      quotaHandler.GetHistory,
		GetViolations:   quotaHandler.GetViolations,
		GetTopEndpoints: quotaHandler.GetTopEndpoints,
		CheckEndpoint:   quotaHandler.CheckEndpoint,
		UpgradeTier:     quotaHandler.UpgradeTier,
		ResetQuota:      quotaHandler.ResetQuota,
		ListTiers:       quotaHandler.ListTiers,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,

		EventsHealthy: eventsHealthy,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
