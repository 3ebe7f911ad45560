package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"geolisting/internal/domain"
)

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// SaveAccommodation upserts into the feed partition. The feed is checked
// first, then the location and owner references under shared locks.
func (r *Repo) SaveAccommodation(ctx context.Context, a domain.Accommodation) error {
	return r.writeAccommodation(ctx, upsertAccommodationSQL, a)
}

// InsertAccommodation fails with domain.ErrDuplicate when (id, feed) is taken.
func (r *Repo) InsertAccommodation(ctx context.Context, a domain.Accommodation) error {
	return r.writeAccommodation(ctx, insertAccommodationSQL, a)
}

// checkFeed rejects feeds that have no partition before any row is touched,
// so a bad feed wins over a bad reference.
func (r *Repo) checkFeed(ctx context.Context, feed domain.Feed) error {
	p, err := r.Partitions(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(p.Feeds, feed) {
		return fmt.Errorf("feed %d: %w", feed, domain.ErrNoPartition)
	}
	return nil
}

func (r *Repo) writeAccommodation(ctx context.Context, query string, a domain.Accommodation) error {
	if err := r.checkFeed(ctx, a.Feed); err != nil {
		return fmt.Errorf("accommodation %s/%d: %w", a.ID, a.Feed, err)
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, shareLocationSQL, a.LocationID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("location %s: %w", a.LocationID, domain.ErrMissingReference)
		}
		if a.OwnerID != nil {
			if ok, err = exists(ctx, tx, shareUserSQL, *a.OwnerID); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("user %d: %w", *a.OwnerID, domain.ErrMissingReference)
			}
		}
		_, err = tx.ExecContext(ctx, query,
			a.ID,
			a.Feed,
			a.Title,
			a.CountryCode,
			a.BedroomCount,
			a.ReviewScore.String(),
			a.USDRate.String(),
			a.Center.WKT(),
			jsonList(a.Images),
			jsonList(a.Amenities),
			a.LocationID,
			valInt64(a.OwnerID),
			a.Published,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("accommodation %s/%d: %w", a.ID, a.Feed, err)
	}
	return nil
}

func scanAccommodation(s rowScanner) (domain.Accommodation, error) {
	var a domain.Accommodation
	var score, rate string
	var images, amenities []byte
	var owner sql.NullInt64
	if err := s.Scan(
		&a.ID, &a.Feed, &a.Title, &a.CountryCode, &a.BedroomCount,
		&score, &rate,
		&a.Center.Lon, &a.Center.Lat,
		&images, &amenities,
		&a.LocationID, &owner, &a.Published,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.Accommodation{}, err
	}
	var err error
	if a.ReviewScore, err = domain.ParseScore(score); err != nil {
		return domain.Accommodation{}, err
	}
	if a.USDRate, err = domain.ParseCents(rate); err != nil {
		return domain.Accommodation{}, err
	}
	if err := json.Unmarshal(images, &a.Images); err != nil {
		return domain.Accommodation{}, fmt.Errorf("images: %w", err)
	}
	if err := json.Unmarshal(amenities, &a.Amenities); err != nil {
		return domain.Accommodation{}, fmt.Errorf("amenities: %w", err)
	}
	a.OwnerID = int64Ptr(owner)
	return a, nil
}

func (r *Repo) GetAccommodation(ctx context.Context, key domain.AccommodationKey) (domain.Accommodation, error) {
	a, err := scanAccommodation(r.db.QueryRowContext(ctx, getAccommodationSQL, key.ID, key.Feed))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Accommodation{}, fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	return a, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repo) ListAccommodations(ctx context.Context, f domain.AccommodationFilter) ([]domain.Accommodation, error) {
	var where []string
	var args []any
	if f.OwnerID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.OwnerID)
	}
	if f.Feed != nil {
		where = append(where, "feed = ?")
		args = append(args, *f.Feed)
	}
	if f.Published != nil {
		where = append(where, "published = ?")
		args = append(args, *f.Published)
	}
	if f.CountryCode != nil {
		where = append(where, "country_code = ?")
		args = append(args, strings.ToUpper(*f.CountryCode))
	}
	if f.Query != nil {
		where = append(where, "title LIKE ?")
		args = append(args, "%"+likeEscaper.Replace(*f.Query)+"%")
	}
	query := selectAccommodationCols
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY feed, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Accommodation
	for rows.Next() {
		a, err := scanAccommodation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteAccommodation(ctx context.Context, key domain.AccommodationKey) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteLocalizationsOfSQL, key.ID, key.Feed); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, deleteAccommodationSQL, key.ID, key.Feed)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
		}
		return nil
	})
}

/********** localizations **********/

func scanLocalization(s rowScanner) (domain.Localization, error) {
	var l domain.Localization
	var policy []byte
	if err := s.Scan(&l.ID, &l.PropertyID, &l.Feed, &l.Language, &l.Description, &policy, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return domain.Localization{}, err
	}
	if len(policy) > 0 {
		l.Policy = json.RawMessage(policy)
	}
	return l, nil
}

// SaveLocalization holds a shared lock on the parent (property_id, feed) row
// while it upserts into the language partition.
func (r *Repo) SaveLocalization(ctx context.Context, l domain.Localization) (domain.Localization, error) {
	var saved domain.Localization
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, shareAccommodationSQL, l.PropertyID, l.Feed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("accommodation %s/%d: %w", l.PropertyID, l.Feed, domain.ErrMissingReference)
		}
		if _, err := tx.ExecContext(ctx, upsertLocalizationSQL,
			l.PropertyID, l.Feed, l.Language, l.Description, valJSON(l.Policy)); err != nil {
			return err
		}
		saved, err = scanLocalization(tx.QueryRowContext(ctx, getLocalizationSQL, l.PropertyID, l.Feed, l.Language))
		return err
	})
	if err != nil {
		return domain.Localization{}, fmt.Errorf("localization %s/%d/%s: %w", l.PropertyID, l.Feed, l.Language, err)
	}
	return saved, nil
}

func (r *Repo) ListLocalizations(ctx context.Context, key domain.AccommodationKey) ([]domain.Localization, error) {
	rows, err := r.db.QueryContext(ctx, listLocalizationsSQL, key.ID, key.Feed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Localization
	for rows.Next() {
		l, err := scanLocalization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
