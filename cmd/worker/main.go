package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farm-jobs/internal/ai"
	"farm-jobs/internal/ai/mock"
	"farm-jobs/internal/archive"
	"farm-jobs/internal/config"
	"farm-jobs/internal/farmstore"
	"farm-jobs/internal/inventory"
	"farm-jobs/internal/models"
	"farm-jobs/internal/notify"
	"farm-jobs/internal/queue"
	"farm-jobs/internal/ratelimit"
	"farm-jobs/internal/store"
	"farm-jobs/internal/telemetry"
	"farm-jobs/internal/weather"
	"farm-jobs/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := queue.Connect(ctx, cfg)
	if err != nil {
		return err
	}

	mongoClient, err := farmstore.Connect(ctx, cfg)
	if err != nil {
		_ = rdb.Close()
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(dctx); err != nil {
			slog.Warn("mongo disconnect", "error", err)
		}
	}()

	farm := farmstore.New(mongoClient.Database(cfg.MongoDatabase))
	if err := farm.EnsureIndexes(ctx); err != nil {
		slog.Warn("ensure mongo indexes", "error", err)
	}

	var generator models.SummaryGenerator
	if cfg.AIProvider == "mock" {
		generator = mock.NewGenerator()
	} else if generator, err = ai.NewGenerator(ctx, cfg); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("init generator: %w", err)
	}

	sink := notify.Multi{notify.LogSink{}, notify.StoreSink{Writer: farm}}

	invOpts := inventory.Options{LowStockThreshold: cfg.LowStockThreshold}
	arch, err := archive.New(ctx, cfg)
	if err != nil {
		_ = rdb.Close()
		return fmt.Errorf("init archive: %w", err)
	}
	if arch != nil {
		invOpts.Archive = arch
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	var recorder worker.RunRecorder
	if cfg.LedgerEnabled {
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			_ = rdb.Close()
			return err
		}
		ledger, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			_ = rdb.Close()
			return err
		}
		defer ledger.Close()
		recorder = ledger
	}

	limiter := ratelimit.NewTokenBucket(rdb, cfg.QueuePrefix+":ratelimit:forecast",
		cfg.ForecastRateCapacity, cfg.ForecastRateRefill, time.Hour)
	forecasts := weather.NewClient(cfg.ForecastBaseURL, cfg.ForecastTimeout, limiter)

	qopts := queue.OptionsFromConfig(cfg)
	poolOpts := func(concurrency int) worker.Options {
		return worker.Options{
			Concurrency:  concurrency,
			PollInterval: cfg.WorkerPollInterval,
			Lease:        cfg.VisibilityTimeout,
			Grace:        cfg.ShutdownGrace,
			WorkerID:     workerID,
			Recorder:     recorder,
		}
	}

	weatherPool := worker.NewPool(
		queue.NewRedisQueue(rdb, models.KindWeatherUpdate, qopts),
		weather.NewHandler(farm, forecasts, sink, nil).Handle,
		poolOpts(cfg.WeatherConcurrency),
	)
	inventoryPool := worker.NewPool(
		queue.NewRedisQueue(rdb, models.KindInventorySummary, qopts),
		inventory.NewAggregator(farm, generator, sink, invOpts).Handle,
		poolOpts(cfg.InventoryConcurrency),
	)
	group := worker.NewGroup(rdb, weatherPool, inventoryPool)

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()

	slog.Info("worker started",
		"worker_id", workerID,
		"generator", generator.Name(),
		"weather_concurrency", cfg.WeatherConcurrency,
		"inventory_concurrency", cfg.InventoryConcurrency,
		"visibility", cfg.VisibilityTimeout,
		"ledger", cfg.LedgerEnabled,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- group.Run(ctx) }()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining worker pools", "grace", cfg.ShutdownGrace)

	// The pools enforce the grace period; this bound only covers the broker close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer cancel()
	shutdownErr := group.ShutdownAll(shutdownCtx)
	if err := <-runErr; err != nil {
		slog.Error("worker pool stopped with error", "error", err)
	}
	_ = metrics.Shutdown(shutdownCtx)

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	slog.Info("worker stopped")
	return nil
}
