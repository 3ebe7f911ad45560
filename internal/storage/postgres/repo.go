package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"geolisting/internal/domain"
)

var _ domain.Store = (*Repo)(nil)

// Repo is the PostgreSQL storage backend. Partitioning and every reference
// are enforced by the database itself.
type Repo struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) (*Repo, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &Repo{pool: pool}, nil
}

// Open builds a pool from a postgres:// URL and pings it.
func Open(ctx context.Context, url string) (*Repo, error) {
	if url == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns < 10 {
		cfg.MaxConns = 10
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) Pool() *pgxpool.Pool { return r.pool }

// SQLSTATE codes the repo translates. A row routed to a partitioned table
// with no matching partition raises check_violation.
const (
	sqlUniqueViolation     = "23505"
	sqlForeignKeyViolation = "23503"
	sqlCheckViolation      = "23514"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case sqlUniqueViolation:
		return fmt.Errorf("%w: %w", domain.ErrDuplicate, err)
	case sqlForeignKeyViolation:
		return fmt.Errorf("%w: %w", domain.ErrMissingReference, err)
	case sqlCheckViolation:
		if strings.HasPrefix(pe.Message, "no partition of relation") {
			return fmt.Errorf("%w: %w", domain.ErrNoPartition, err)
		}
	}
	return err
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return mapErr(pgx.BeginFunc(ctx, r.pool, fn))
}

func valTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (r *Repo) LogMiss(ctx context.Context, feed domain.Feed, id string, status int, reason string) error {
	_, err := r.pool.Exec(ctx, insertMissSQL, int16(feed), id, reason, status)
	return err
}
