package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farm-jobs/internal/api"
	"farm-jobs/internal/config"
	"farm-jobs/internal/jobs"
	"farm-jobs/internal/models"
	"farm-jobs/internal/queue"
	"farm-jobs/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := queue.Connect(ctx, cfg)
	if err != nil {
		slog.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	qopts := queue.OptionsFromConfig(cfg)
	submitter := jobs.NewSubmitter(
		queue.NewRedisQueue(rdb, models.KindWeatherUpdate, qopts),
		queue.NewRedisQueue(rdb, models.KindInventorySummary, qopts),
	)

	if cfg.LedgerEnabled {
		ledger, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer ledger.Close()
		submitter.WithRuns(ledger)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(submitter, slog.Default()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
