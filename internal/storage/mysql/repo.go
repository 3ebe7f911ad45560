package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"geolisting/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func valTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

var _ domain.Store = (*Repo)(nil)

// Repo is the MySQL storage backend.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Open connects and pings. parseTime is forced on; the repo scans DATETIME
// columns into time.Time.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return New(db), nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) DB() *sql.DB { return r.db }

// MySQL server error numbers the repo translates.
const (
	erDupEntry        = 1062
	erRowIsReferenced = 1451
	erNoReferencedRow = 1452
	erNoPartitionFor  = 1526
)

// mapErr translates driver errors into the domain sentinels, keeping the
// driver error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case erDupEntry:
		return fmt.Errorf("%w: %w", domain.ErrDuplicate, err)
	case erNoReferencedRow, erRowIsReferenced:
		return fmt.Errorf("%w: %w", domain.ErrMissingReference, err)
	case erNoPartitionFor:
		return fmt.Errorf("%w: %w", domain.ErrNoPartition, err)
	}
	return err
}

// inTx runs fn in a transaction, rolling back on any error.
func (r *Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

// exists runs a one-row probe; found is false on sql.ErrNoRows.
func exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repo) LogMiss(ctx context.Context, feed domain.Feed, id string, status int, reason string) error {
	_, err := r.db.ExecContext(ctx, insertMissSQL, feed, id, reason, status)
	return err
}
