package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fitvox/metering/internal/api"
	"github.com/fitvox/metering/internal/auth"
	"github.com/fitvox/metering/internal/config"
	"github.com/fitvox/metering/internal/database"
	"github.com/fitvox/metering/internal/events"
	"github.com/fitvox/metering/internal/metrics"
	"github.com/fitvox/metering/internal/middleware"
	"github.com/fitvox/metering/internal/quota"
	iredis "github.com/fitvox/metering/internal/redis"
	"github.com/fitvox/metering/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS
	natsClient, err := events.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	// Quota engine
	store := quota.NewPostgresStore(pool)
	clock := clockwork.NewRealClock()
	sink := events.NewPublisher(natsClient.JetStream())

	grants := quota.Grants{
		TurboMinutes: cfg.Quota.TurboMinutes,
		TurboWindow:  cfg.Quota.TurboWindow,
		BankMinutes:  cfg.Quota.BankMinutes,
		PassDuration: cfg.Quota.PassDuration,
	}

	engine := quota.NewEngine(store, clock, sink, cfg.Quota.MaxUpdateRetries)
	gate := quota.NewTextGate(store, clock, sink, cfg.Quota.TextDailyLimit, cfg.Quota.MaxUpdateRetries)
	applier := quota.NewApplier(store, clock, sink, grants, cfg.Quota.MaxUpdateRetries)
	quotaHandler := quota.NewHandler(engine, gate, applier)

	// Payment confirmations apply pending recharges out-of-band.
	paymentsConsumer := events.NewPaymentsConsumer(natsClient, applier)
	go func() {
		if err := paymentsConsumer.Start(ctx); err != nil {
			slog.Error("payments consumer stopped", "error", err)
		}
	}()

	if cfg.Quota.ExpirySweepInterval > 0 {
		go runExpirySweep(ctx, store, clock, cfg.Quota.ExpirySweepInterval)
	}

	// Auth
	verifier := auth.NewVerifier(cfg.JWT.AccessSecret)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisClient, cfg.Quota.RateLimitRequests, cfg.Quota.RateLimitWindowS)

	// Router
	router := api.NewRouter(pool, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimiter:        limiter.Middleware,
		EventsHealthy:      natsClient.Healthy,
	}, api.HandlerSet{
		CheckVoice:   quotaHandler.CheckVoice,
		ConsumeVoice: quotaHandler.ConsumeVoice,

		CheckText:     quotaHandler.CheckText,
		IncrementText: quotaHandler.IncrementText,

		ApplyRecharge:    quotaHandler.ApplyRecharge,
		ProcessRecharges: quotaHandler.ProcessRecharges,

		AuthMiddleware: auth.Middleware(verifier),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// runExpirySweep periodically flips stale active recharges to expired so
// the ledger doesn't accumulate rows the resolver has to skip.
func runExpirySweep(ctx context.Context, store quota.Store, clock clockwork.Clock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ExpireStale(ctx, clock.Now().UTC())
			if err != nil {
				slog.Error("expiring stale recharges", "error", err)
				continue
			}
			if n > 0 {
				metrics.RechargesExpiredTotal.Add(float64(n))
				slog.Info("expired stale recharges", "count", n)
			}
		}
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
