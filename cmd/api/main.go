package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumapay/linkledger/internal/api"
	"github.com/lumapay/linkledger/internal/config"
	"github.com/lumapay/linkledger/internal/fees"
	"github.com/lumapay/linkledger/internal/ingest"
	"github.com/lumapay/linkledger/internal/links"
	"github.com/lumapay/linkledger/internal/payout"
	"github.com/lumapay/linkledger/internal/processor"
	"github.com/lumapay/linkledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	if err := store.Migrate(cfg.DBSource, cfg.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	feeCfg := fees.Config{BasisPoints: cfg.FeeBasisPoints, FixedFee: cfg.FeeFixedAmount}
	proc := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)

	registry := links.NewRegistry(st, proc, feeCfg, cfg.Currencies, logger)
	payouts := payout.NewCoordinator(st, proc, logger)
	ingestor := ingest.NewIngestor(st, proc, payouts, feeCfg, logger)

	handler := api.NewHandler(st, registry, ingestor, payouts, proc, cfg.WebhookSecret, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:   cfg.JWTSecret,
		JWTAudience: cfg.JWTAudience,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
