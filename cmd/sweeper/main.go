// The sweeper daemon runs the expiry sweep on a fixed interval,
// independent of request traffic.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumapay/linkledger/internal/config"
	"github.com/lumapay/linkledger/internal/processor"
	"github.com/lumapay/linkledger/internal/store"
	"github.com/lumapay/linkledger/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	proc := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)
	sweeper := sweep.NewSweeper(st, proc, sweep.Config{
		BatchSize:   cfg.SweepBatchSize,
		ItemTimeout: cfg.SweepItemTimeout,
		Concurrency: cfg.SweepConcurrency,
	}, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("sweeper starting", "interval", cfg.SweepInterval, "batch_size", cfg.SweepBatchSize)
	runSweep(ctx, sweeper, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			runSweep(ctx, sweeper, logger)
		}
	}
}

func runSweep(ctx context.Context, sweeper *sweep.Sweeper, logger *slog.Logger) {
	stats, err := sweeper.Run(ctx)
	if err != nil {
		// Item errors; those links are retried next run.
		logger.Warn("sweep finished with errors", "error", err,
			"expired", stats.Expired, "failed", stats.Failed)
		return
	}
	if stats.Candidates > 0 {
		logger.Info("sweep finished",
			"candidates", stats.Candidates, "expired", stats.Expired, "skipped", stats.Skipped)
	}
}
