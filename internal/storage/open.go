// Package storage selects the backend named by DB_DRIVER.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"geolisting/internal/domain"
	"geolisting/internal/shared"
	"geolisting/internal/storage/memory"
	"geolisting/internal/storage/mysql"
	"geolisting/internal/storage/postgres"
)

// Open connects to the configured backend. The schema is not touched;
// callers run Migrate when they own it.
func Open(ctx context.Context, cfg shared.Config) (domain.Store, error) {
	switch cfg.DBDriver {
	case "mysql", "":
		log.Info().Str("driver", "mysql").Msg("opening store")
		r, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "postgres", "postgresql", "pgx":
		log.Info().Str("driver", "postgres").Msg("opening store")
		r, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "memory":
		log.Warn().Msg("in-memory store; nothing survives a restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}
