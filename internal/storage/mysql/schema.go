package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"geolisting/internal/domain"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// InnoDB refuses foreign keys on partitioned tables, so references into and
// out of accommodations and accommodation_localizations are checked inside
// the write transactions instead (see accommodations.go).
var migrations = []migration{
	{1, "accounts", []string{
		`CREATE TABLE IF NOT EXISTS users (
  id            BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  username      VARCHAR(150) NOT NULL,
  email         VARCHAR(254) NOT NULL,
  password_hash VARBINARY(255) NOT NULL,
  is_superuser  BOOLEAN      NOT NULL DEFAULT FALSE,
  created_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  UNIQUE KEY uq_users_username (username)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS roles (
  id   BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  name VARCHAR(150) NOT NULL,
  UNIQUE KEY uq_roles_name (name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
  role_id  BIGINT       NOT NULL,
  codename VARCHAR(100) NOT NULL,
  PRIMARY KEY (role_id, codename),
  CONSTRAINT fk_role_permissions_role FOREIGN KEY (role_id) REFERENCES roles (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS user_roles (
  user_id BIGINT NOT NULL,
  role_id BIGINT NOT NULL,
  PRIMARY KEY (user_id, role_id),
  CONSTRAINT fk_user_roles_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
  CONSTRAINT fk_user_roles_role FOREIGN KEY (role_id) REFERENCES roles (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}},
	{2, "locations", []string{
		`CREATE TABLE IF NOT EXISTS locations (
  id            VARCHAR(20)  NOT NULL PRIMARY KEY,
  title         VARCHAR(100) NOT NULL,
  center        POINT        NOT NULL,
  parent_id     VARCHAR(20)  NULL,
  location_type VARCHAR(20)  NOT NULL,
  country_code  CHAR(2)      NOT NULL,
  state_abbr    VARCHAR(3)   NULL,
  city          VARCHAR(30)  NULL,
  created_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  updated_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  KEY idx_locations_parent_title (parent_id, title),
  KEY idx_locations_type_title (location_type, title),
  CONSTRAINT fk_locations_parent FOREIGN KEY (parent_id) REFERENCES locations (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}},
	{3, "accommodations", []string{
		`CREATE TABLE IF NOT EXISTS accommodations (
  id            VARCHAR(20)   NOT NULL,
  feed          SMALLINT      NOT NULL DEFAULT 0,
  title         VARCHAR(100)  NOT NULL,
  country_code  CHAR(2)       NOT NULL,
  bedroom_count INT UNSIGNED  NOT NULL DEFAULT 0,
  review_score  DECIMAL(3,1)  NOT NULL DEFAULT 0,
  usd_rate      DECIMAL(10,2) NOT NULL DEFAULT 0,
  center        POINT         NOT NULL,
  images        JSON          NOT NULL,
  amenities     JSON          NOT NULL,
  location_id   VARCHAR(20)   NOT NULL,
  user_id       BIGINT        NULL,
  published     BOOLEAN       NOT NULL DEFAULT FALSE,
  created_at    DATETIME(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  updated_at    DATETIME(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  PRIMARY KEY (id, feed),
  KEY idx_accommodations_location (location_id),
  KEY idx_accommodations_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
PARTITION BY LIST (feed) (
  PARTITION p_feed_0 VALUES IN (0),
  PARTITION p_feed_1 VALUES IN (1),
  PARTITION p_feed_2 VALUES IN (2)
)`,
		`CREATE TABLE IF NOT EXISTS accommodation_localizations (
  id          BIGINT      NOT NULL AUTO_INCREMENT,
  property_id VARCHAR(20) NOT NULL,
  feed        SMALLINT    NOT NULL DEFAULT 0,
  language    CHAR(2)     NOT NULL,
  description TEXT        NOT NULL,
  policy      JSON        NULL,
  created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  PRIMARY KEY (id, language),
  UNIQUE KEY uq_localizations_property_language (property_id, feed, language)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
PARTITION BY LIST COLUMNS (language) (
  PARTITION p_lang_en VALUES IN ('en'),
  PARTITION p_lang_fr VALUES IN ('fr'),
  PARTITION p_lang_de VALUES IN ('de')
)`,
	}},
	{4, "ingest_misses", []string{
		`CREATE TABLE IF NOT EXISTS ingest_misses (
  feed        SMALLINT     NOT NULL,
  id          VARCHAR(20)  NOT NULL,
  reason      VARCHAR(100) NOT NULL,
  http_status INT          NOT NULL,
  seen_at     DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  PRIMARY KEY (feed, id, reason)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}},
}

// Migrate applies the migrations that schema_migrations does not list yet.
// MySQL commits each DDL statement on its own, so a version is recorded
// only after all of its statements ran.
func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INT          NOT NULL PRIMARY KEY,
  name       VARCHAR(100) NOT NULL,
  applied_at DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
)`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var v int
		err := r.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations WHERE version = ?`, m.version).Scan(&v)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d %s: %w", m.version, m.name, err)
			}
		}
		if _, err := r.db.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			return err
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("migration applied")
	}
	return nil
}

/********** partitions **********/

func (r *Repo) partitionValues(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, selectPartitionsSQL, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var desc sql.NullString
		if err := rows.Scan(&desc); err != nil {
			return nil, err
		}
		for _, v := range strings.Split(desc.String, ",") {
			if v = strings.Trim(strings.TrimSpace(v), "'"); v != "" {
				out = append(out, v)
			}
		}
	}
	return out, rows.Err()
}

func (r *Repo) Partitions(ctx context.Context) (domain.Partitions, error) {
	var p domain.Partitions
	feeds, err := r.partitionValues(ctx, "accommodations")
	if err != nil {
		return p, err
	}
	for _, f := range feeds {
		var n int
		if _, err := fmt.Sscan(f, &n); err == nil {
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

func (r *Repo) AddFeedPartition(ctx context.Context, feed domain.Feed) error {
	if feed < 0 {
		return fmt.Errorf("feed %d must not be negative", feed)
	}
	p, err := r.Partitions(ctx)
	if err != nil {
		return err
	}
	for _, f := range p.Feeds {
		if f == feed {
			return nil
		}
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE accommodations ADD PARTITION (PARTITION p_feed_%d VALUES IN (%d))", feed, feed))
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
	for _, l := range p.Languages {
		if l == lang {
			return nil
		}
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE accommodation_localizations ADD PARTITION (PARTITION p_lang_%s VALUES IN ('%s'))", lang, lang))
	if err == nil {
		log.Info().Str("language", lang).Msg("language partition added")
	}
	return mapErr(err)
}
