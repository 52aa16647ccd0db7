package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sdiallo/bulkdisburse/internal/adapter"
	"github.com/sdiallo/bulkdisburse/internal/api"
	"github.com/sdiallo/bulkdisburse/internal/config"
	"github.com/sdiallo/bulkdisburse/internal/db"
	"github.com/sdiallo/bulkdisburse/internal/idempotency"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"github.com/sdiallo/bulkdisburse/internal/service"
	"github.com/sdiallo/bulkdisburse/internal/worker"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	schemeAdapter, err := adapter.NewHTTPAdapter(cfg.AdapterBaseURL, cfg.AdapterTimeout)
	if err != nil {
		return fmt.Errorf("init scheme adapter: %w", err)
	}

	dispatchSvc := service.NewDispatchService(store, schemeAdapter, logger)
	dispatchWorker := worker.NewDispatchWorker(dispatchSvc).
		WithPollInterval(cfg.DispatchPollInterval).
		WithBatchSize(cfg.DispatchBatchSize)
	stopDispatch := dispatchWorker.Run(ctx)
	logger.Info("dispatch worker started",
		zap.Duration("interval", cfg.DispatchPollInterval),
		zap.Int32("batch", cfg.DispatchBatchSize))

	integritySvc := service.NewIntegrityService(store)
	integrityWorker := worker.NewIntegrityWorker(integritySvc).
		WithInterval(cfg.IntegrityInterval)
	stopIntegrity := integrityWorker.Run(ctx)
	logger.Info("integrity worker started", zap.Duration("interval", cfg.IntegrityInterval))

	pruneWorker := worker.NewPruneWorker(idemStore).
		WithInterval(cfg.IdempotencyPruneInterval)
	stopPrune := pruneWorker.Run(ctx)
	logger.Info("idempotency prune worker started", zap.Duration("interval", cfg.IdempotencyPruneInterval))

	router := api.NewRouter(api.RouterConfig{
		PublicRateLimitRPS:   cfg.PublicRateLimitRPS,
		CallbackRateLimitRPS: cfg.CallbackRateLimitRPS,
		StreamPollInterval:   cfg.StreamPollInterval,
		WaitPollInterval:     cfg.WaitPollInterval,
		WaitMaxTimeout:       cfg.WaitMaxTimeout,
	}, logger, pool, store, idemStore, redisClient)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WaitMaxTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopDispatch()
	stopIntegrity()
	stopPrune()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
