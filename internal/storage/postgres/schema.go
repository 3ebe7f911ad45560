package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"geolisting/internal/domain"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// Partitioned tables get their keys from the partition column: the
// accommodations key is (id, feed) and localizations reference it as a pair.
var migrations = []migration{
	{1, "accounts", []string{
		`CREATE TABLE IF NOT EXISTS users (
  id            BIGSERIAL    PRIMARY KEY,
  username      VARCHAR(150) NOT NULL UNIQUE,
  email         VARCHAR(254) NOT NULL,
  password_hash BYTEA        NOT NULL,
  is_superuser  BOOLEAN      NOT NULL DEFAULT FALSE,
  created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS roles (
  id   BIGSERIAL    PRIMARY KEY,
  name VARCHAR(150) NOT NULL UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
  role_id  BIGINT       NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
  codename VARCHAR(100) NOT NULL,
  PRIMARY KEY (role_id, codename)
)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
  user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
  role_id BIGINT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
  PRIMARY KEY (user_id, role_id)
)`,
	}},
	{2, "locations", []string{
		`CREATE TABLE IF NOT EXISTS locations (
  id            VARCHAR(20)  PRIMARY KEY,
  title         VARCHAR(100) NOT NULL,
  center        POINT        NOT NULL,
  parent_id     VARCHAR(20)  NULL REFERENCES locations (id) ON DELETE CASCADE,
  location_type VARCHAR(20)  NOT NULL CHECK (location_type IN ('country', 'state', 'province', 'city')),
  country_code  CHAR(2)      NOT NULL,
  state_abbr    VARCHAR(3)   NULL,
  city          VARCHAR(30)  NULL,
  created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_locations_parent_title ON locations (parent_id, title)`,
		`CREATE INDEX IF NOT EXISTS idx_locations_type_title ON locations (location_type, title)`,
	}},
	{3, "accommodations", []string{
		`CREATE TABLE IF NOT EXISTS accommodations (
  id            VARCHAR(20)   NOT NULL,
  feed          SMALLINT      NOT NULL DEFAULT 0,
  title         VARCHAR(100)  NOT NULL,
  country_code  CHAR(2)       NOT NULL,
  bedroom_count INTEGER       NOT NULL DEFAULT 0 CHECK (bedroom_count >= 0),
  review_score  NUMERIC(3,1)  NOT NULL DEFAULT 0,
  usd_rate      NUMERIC(10,2) NOT NULL DEFAULT 0,
  center        POINT         NOT NULL,
  images        TEXT[]        NOT NULL DEFAULT '{}',
  amenities     TEXT[]        NOT NULL DEFAULT '{}',
  location_id   VARCHAR(20)   NOT NULL REFERENCES locations (id) ON DELETE CASCADE,
  user_id       BIGINT        NULL REFERENCES users (id) ON DELETE SET NULL,
  published     BOOLEAN       NOT NULL DEFAULT FALSE,
  created_at    TIMESTAMPTZ   NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ   NOT NULL DEFAULT now(),
  PRIMARY KEY (id, feed)
) PARTITION BY LIST (feed)`,
		`CREATE TABLE IF NOT EXISTS accommodations_feed_0 PARTITION OF accommodations FOR VALUES IN (0)`,
		`CREATE TABLE IF NOT EXISTS accommodations_feed_1 PARTITION OF accommodations FOR VALUES IN (1)`,
		`CREATE TABLE IF NOT EXISTS accommodations_feed_2 PARTITION OF accommodations FOR VALUES IN (2)`,
		`CREATE INDEX IF NOT EXISTS idx_accommodations_location ON accommodations (location_id)`,
		`CREATE INDEX IF NOT EXISTS idx_accommodations_user ON accommodations (user_id)`,
		`CREATE TABLE IF NOT EXISTS accommodation_localizations (
  id          BIGSERIAL   NOT NULL,
  property_id VARCHAR(20) NOT NULL,
  feed        SMALLINT    NOT NULL DEFAULT 0,
  language    VARCHAR(2)  NOT NULL,
  description TEXT        NOT NULL DEFAULT '',
  policy      JSONB       NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (id, language),
  UNIQUE (property_id, feed, language),
  CONSTRAINT fk_localizations_parent FOREIGN KEY (property_id, feed)
    REFERENCES accommodations (id, feed) ON DELETE CASCADE
) PARTITION BY LIST (language)`,
		`CREATE TABLE IF NOT EXISTS accommodation_localizations_en PARTITION OF accommodation_localizations FOR VALUES IN ('en')`,
		`CREATE TABLE IF NOT EXISTS accommodation_localizations_fr PARTITION OF accommodation_localizations FOR VALUES IN ('fr')`,
		`CREATE TABLE IF NOT EXISTS accommodation_localizations_de PARTITION OF accommodation_localizations FOR VALUES IN ('de')`,
	}},
	{4, "ingest_misses", []string{
		`CREATE TABLE IF NOT EXISTS ingest_misses (
  feed        SMALLINT     NOT NULL,
  id          VARCHAR(20)  NOT NULL,
  reason      VARCHAR(100) NOT NULL,
  http_status INTEGER      NOT NULL,
  seen_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
  PRIMARY KEY (feed, id, reason)
)`,
	}},
}

// Migrate applies pending migrations, each in its own transaction.
func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER      PRIMARY KEY,
  name       VARCHAR(100) NOT NULL,
  applied_at TIMESTAMPTZ  NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var v int
		err := r.pool.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, m.version).Scan(&v)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d %s: %w", m.version, m.name, err)
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("migration applied")
	}
	return nil
}

/********** partitions **********/

// parseBound extracts the values of a "FOR VALUES IN (...)" bound. The
// DEFAULT partition and range bounds yield nothing.
func parseBound(expr string) []string {
	const prefix = "FOR VALUES IN ("
	if !strings.HasPrefix(expr, prefix) || !strings.HasSuffix(expr, ")") {
		return nil
	}
	var out []string
	for _, v := range strings.Split(expr[len(prefix):len(expr)-1], ",") {
		if v = strings.Trim(strings.TrimSpace(v), "'"); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *Repo) partitionValues(ctx context.Context, table string) ([]string, error) {
	rows, err := r.pool.Query(ctx, selectPartitionBoundsSQL, table)
	if err != nil {
		return nil, err
	}
	bounds, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, b := range bounds {
		out = append(out, parseBound(b)...)
	}
	return out, nil
}

func (r *Repo) Partitions(ctx context.Context) (domain.Partitions, error) {
	var p domain.Partitions
	feeds, err := r.partitionValues(ctx, "accommodations")
	if err != nil {
		return p, err
	}
	for _, f := range feeds {
		if n, err := strconv.ParseInt(f, 10, 16); err == nil {
			p.Feeds = append(p.Feeds, domain.Feed(n))
		}
	}
	if p.Languages, err = r.partitionValues(ctx, "accommodation_localizations"); err != nil {
		return p, err
	}
	slices.Sort(p.Feeds)
	slices.Sort(p.Languages)
	return p, nil
}

// AddFeedPartition is idempotent; only the feed number reaches the DDL.
func (r *Repo) AddFeedPartition(ctx context.Context, feed domain.Feed) error {
	if feed < 0 {
		return fmt.Errorf("feed %d must not be negative", feed)
	}
	p, err := r.Partitions(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(p.Feeds, feed) {
		return nil
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS accommodations_feed_%d PARTITION OF accommodations FOR VALUES IN (%d)", feed, feed))
	if err == nil {
		log.Info().Int16("feed", int16(feed)).Msg("feed partition added")
	}
	return mapErr(err)
}

func (r *Repo) AddLanguagePartition(ctx context.Context, lang string) error {
	if !domain.ValidLanguage(lang) {
		return fmt.Errorf("language %q must be two lowercase letters", lang)
	}
	p, err := r.Partitions(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(p.Languages, lang) {
		return nil
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS accommodation_localizations_%s PARTITION OF accommodation_localizations FOR VALUES IN ('%s')", lang, lang))
	if err == nil {
		log.Info().Str("language", lang).Msg("language partition added")
	}
	return mapErr(err)
}
