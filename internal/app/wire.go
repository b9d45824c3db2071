// Package app wires configuration into the concrete store and gateway used by
// the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/config"
	"github.com/Cypherspark/bulk-sms/internal/core"
	"github.com/Cypherspark/bulk-sms/internal/db"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
	"github.com/Cypherspark/bulk-sms/internal/provider"
)

// OpenStore returns the configured store and a function releasing it. With
// exportStats the pgx pool gauges are published until ctx is done.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger, exportStats bool) (core.Store, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on exit")
		return db.NewMemory(), func() {}, nil
	}

	pg, err := db.Open(ctx, cfg.DatabaseURL, int32(cfg.MaxConns))
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("migrations applied")
	}
	if exportStats {
		stats := metrics.NewPGXPoolStats(pg.Pool)
		go stats.Start(15*time.Second, ctx.Done())
	}
	return db.NewPostgres(pg), pg.Close, nil
}

func NewGateway(cfg config.GatewayConfig, log zerolog.Logger) provider.Gateway {
	if cfg.Provider == "dummy" {
		log.Warn().Msg("using dummy SMS gateway; nothing is delivered")
		return provider.NewDummy()
	}
	return provider.NewSMSAPI(provider.SMSAPIOptions{
		Token:   cfg.Token,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		QPS:     cfg.QPS,
		Burst:   cfg.Burst,
		Logger:  log,
	})
}

func NewService(cfg config.Config, gw provider.Gateway, store core.Store, log zerolog.Logger) *core.Service {
	return core.NewService(gw, store, core.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		DefaultSender: cfg.DefaultSender,
		BatchSize:     cfg.BatchSize,
	}, log)
}
