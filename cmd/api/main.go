package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/app"
	"github.com/Cypherspark/bulk-sms/internal/config"
	"github.com/Cypherspark/bulk-sms/internal/core"
	httpapi "github.com/Cypherspark/bulk-sms/internal/http"
	"github.com/Cypherspark/bulk-sms/internal/logger"
	"github.com/Cypherspark/bulk-sms/internal/provider"
	"github.com/Cypherspark/bulk-sms/internal/worker"
)

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	// ---- Store ----
	store, closeStore, err := app.OpenStore(ctx, cfg.Store, log, true)
	if err != nil {
		return err
	}
	defer closeStore()

	// ---- Gateway / orchestrator ----
	gw := app.NewGateway(cfg.Gateway, log)
	if c, ok := gw.(provider.Checker); ok {
		if err := c.Check(); err != nil {
			// Not fatal: sends fail with a configuration error until it is fixed.
			log.Warn().Err(err).Msg("gateway is not fully configured")
		}
	}
	svc := app.NewService(cfg, gw, store, log)

	// ---- Jobs ----
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	runner := worker.NewRunner(svc, worker.Options{
		Concurrency: cfg.Jobs.Concurrency,
		QueueSize:   cfg.Jobs.QueueSize,
		Retention:   cfg.Jobs.Retention,
	}, log)
	runner.Start(jobsCtx)

	// ---- HTTP server ----
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newHandler(cfg, gw, svc, runner, store, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Str("provider", cfg.Gateway.Provider).Msg("HTTP listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
	case err := <-errCh:
		stopJobs()
		runner.Wait()
		return err
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	err = server.Shutdown(shutdownCtx)

	// Running sends finish; queued ones are dropped.
	stopJobs()
	runner.Wait()
	return err
}

func newHandler(cfg config.Config, gw provider.Gateway, svc *core.Service, jobs httpapi.Jobs, store core.Store, log zerolog.Logger) http.Handler {
	srv := &httpapi.Server{
		Gateway:       gw,
		Sender:        svc,
		Jobs:          jobs,
		Store:         store,
		Log:           log,
		DefaultSender: cfg.DefaultSender,
	}
	return srv.Router()
}
