package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inbox_routing_backend/internal/adapters"
	"inbox_routing_backend/internal/eventstream"
	"inbox_routing_backend/internal/events"
	apphttp "inbox_routing_backend/internal/http"
	"inbox_routing_backend/internal/http/router"
	"inbox_routing_backend/internal/notification"
	"inbox_routing_backend/internal/routing"
	"inbox_routing_backend/internal/scheduler"
	"inbox_routing_backend/internal/whatsapp"
	"inbox_routing_backend/migrations"
	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/db"
	"inbox_routing_backend/platform/kv"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"
	"inbox_routing_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var redisClient redis.UniversalClient
	if cfg.IsRedisEnabled() {
		if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
			c, err := kv.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			redisClient = c
			return nil
		}); err != nil {
			log.Error("failed to connect to redis", "error", err)
			panic("failed to connect to redis: " + err.Error())
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("redis connection established")
	}

	m := metrics.New()

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	if cfg.IsEventStreamEnabled() {
		publisher, err := eventstream.Dial(cfg, log, m)
		if err != nil {
			log.Error("failed to connect to event stream", "error", err)
			panic("failed to connect to event stream: " + err.Error())
		}
		defer func() { _ = publisher.Close() }()
		publisher.Subscribe(eventBus)
		log.Info("event stream enabled", "exchange", cfg.GetRabbitMQExchange())
	} else {
		log.Warn("RABBITMQ_URL not configured; routing events stay in process")
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	notificationModule := notification.New(log)
	notificationModule.RegisterHandlers(eventBus)
	defer notificationModule.Close()

	whatsappClient := whatsapp.NewClient(cfg, log)
	if whatsappClient == nil {
		log.Warn("WHATSAPP_URL not configured; routing texts are persisted but not sent")
	}

	var rebuilds scheduler.MarkerRebuildScheduler
	if cfg.IsRedisEnabled() {
		schedulerClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = schedulerClient.Close() }()
		rebuilds = schedulerClient
	}

	routingModule, err := routing.NewModule(routing.Deps{
		Pool:        pool,
		Redis:       redisClient,
		Sender:      whatsappClient,
		Broadcaster: adapters.NewSSEBroadcaster(notificationModule.SSE()),
		Bus:         eventBus,
		Validator:   val,
		Log:         log,
		Metrics:     m,
		Rebuilds:    rebuilds,
	}, cfg)
	if err != nil {
		log.Error("failed to initialize routing module", "error", err)
		panic("failed to initialize routing module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  pool,
		Metrics: m,
		Modules: []apphttp.Module{
			routingModule,
			notificationModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notificationModule.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
