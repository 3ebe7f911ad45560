package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"geolisting/internal/domain"
)

// SaveAccommodation upserts into the feed partition. The database raises
// the partition and reference errors, mapped by mapErr.
func (r *Repo) SaveAccommodation(ctx context.Context, a domain.Accommodation) error {
	return r.writeAccommodation(ctx, upsertAccommodationSQL, a)
}

// InsertAccommodation is SaveAccommodation without the update branch; a
// taken key is a unique violation.
func (r *Repo) InsertAccommodation(ctx context.Context, a domain.Accommodation) error {
	return r.writeAccommodation(ctx, insertAccommodationSQL, a)
}

func (r *Repo) writeAccommodation(ctx context.Context, query string, a domain.Accommodation) error {
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		int16(a.Feed),
		a.Title,
		a.CountryCode,
		a.BedroomCount,
		a.ReviewScore.String(),
		a.USDRate.String(),
		a.Center.Lon,
		a.Center.Lat,
		nonNil(a.Images),
		nonNil(a.Amenities),
		a.LocationID,
		a.OwnerID,
		a.Published,
	)
	if err != nil {
		return fmt.Errorf("accommodation %s/%d: %w", a.ID, a.Feed, mapErr(err))
	}
	return nil
}

func scanAccommodation(row pgx.Row) (domain.Accommodation, error) {
	var a domain.Accommodation
	var feed int16
	var score, rate string
	if err := row.Scan(
		&a.ID, &feed, &a.Title, &a.CountryCode, &a.BedroomCount,
		&score, &rate,
		&a.Center.Lon, &a.Center.Lat,
		&a.Images, &a.Amenities,
		&a.LocationID, &a.OwnerID, &a.Published,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.Accommodation{}, err
	}
	a.Feed = domain.Feed(feed)
	a.Images, a.Amenities = nonNil(a.Images), nonNil(a.Amenities)
	var err error
	if a.ReviewScore, err = domain.ParseScore(score); err != nil {
		return domain.Accommodation{}, err
	}
	if a.USDRate, err = domain.ParseCents(rate); err != nil {
		return domain.Accommodation{}, err
	}
	return a, nil
}

func (r *Repo) GetAccommodation(ctx context.Context, key domain.AccommodationKey) (domain.Accommodation, error) {
	a, err := scanAccommodation(r.pool.QueryRow(ctx, getAccommodationSQL, key.ID, int16(key.Feed)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Accommodation{}, fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	return a, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repo) ListAccommodations(ctx context.Context, f domain.AccommodationFilter) ([]domain.Accommodation, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != nil {
		add("user_id = $%d", *f.OwnerID)
	}
	if f.Feed != nil {
		add("feed = $%d", int16(*f.Feed))
	}
	if f.Published != nil {
		add("published = $%d", *f.Published)
	}
	if f.CountryCode != nil {
		add("country_code = $%d", strings.ToUpper(*f.CountryCode))
	}
	if f.Query != nil {
		add("title ILIKE $%d", "%"+likeEscaper.Replace(*f.Query)+"%")
	}
	query := selectAccommodationCols
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY feed, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Accommodation, error) {
		return scanAccommodation(row)
	})
}

func (r *Repo) DeleteAccommodation(ctx context.Context, key domain.AccommodationKey) error {
	tag, err := r.pool.Exec(ctx, deleteAccommodationSQL, key.ID, int16(key.Feed))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	return nil
}

/********** localizations **********/

func scanLocalization(row pgx.Row) (domain.Localization, error) {
	var l domain.Localization
	var feed int16
	var policy *string
	if err := row.Scan(&l.ID, &l.PropertyID, &feed, &l.Language, &l.Description, &policy, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return domain.Localization{}, err
	}
	l.Feed = domain.Feed(feed)
	if policy != nil {
		l.Policy = json.RawMessage(*policy)
	}
	return l, nil
}

// SaveLocalization upserts into the language partition. The composite
// foreign key rejects a parent missing from the same feed.
func (r *Repo) SaveLocalization(ctx context.Context, l domain.Localization) (domain.Localization, error) {
	saved, err := scanLocalization(r.pool.QueryRow(ctx, upsertLocalizationSQL,
		l.PropertyID, int16(l.Feed), l.Language, l.Description, valJSON(l.Policy)))
	if err != nil {
		return domain.Localization{}, fmt.Errorf("localization %s/%d/%s: %w", l.PropertyID, l.Feed, l.Language, mapErr(err))
	}
	return saved, nil
}

func (r *Repo) ListLocalizations(ctx context.Context, key domain.AccommodationKey) ([]domain.Localization, error) {
	rows, err := r.pool.Query(ctx, listLocalizationsSQL, key.ID, int16(key.Feed))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Localization, error) {
		return scanLocalization(row)
	})
}
