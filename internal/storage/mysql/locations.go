package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"geolisting/internal/domain"
)

func (r *Repo) UpsertLocation(ctx context.Context, l domain.Location) error {
	_, err := r.db.ExecContext(ctx, upsertLocationSQL,
		l.ID,
		l.Title,
		l.Center.WKT(),
		valStr(l.ParentID),
		string(l.Type),
		l.CountryCode,
		valStr(l.StateAbbr),
		valStr(l.City),
		valTime(l.CreatedAt),
	)
	if err = mapErr(err); err != nil {
		return fmt.Errorf("location %s: %w", l.ID, err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanLocation(s rowScanner) (domain.Location, error) {
	var l domain.Location
	var typ string
	var parent, abbr, city sql.NullString
	if err := s.Scan(
		&l.ID, &l.Title,
		&l.Center.Lon, &l.Center.Lat,
		&parent, &typ,
		&l.CountryCode, &abbr, &city,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Location{}, err
	}
	l.Type = domain.LocationType(typ)
	l.ParentID, l.StateAbbr, l.City = strPtr(parent), strPtr(abbr), strPtr(city)
	return l, nil
}

func (r *Repo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	l, err := scanLocation(r.db.QueryRowContext(ctx, getLocationSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Location{}, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	return l, err
}

func (r *Repo) ListLocations(ctx context.Context, q domain.LocationQuery) ([]domain.Location, error) {
	var where []string
	var args []any
	if q.Type != nil {
		where = append(where, "location_type = ?")
		args = append(args, string(*q.Type))
	}
	if q.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *q.ParentID)
	}
	query := selectLocationCols
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY title, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLocation clears accommodations under the subtree by hand, then lets
// the self-referencing foreign key cascade through the locations.
func (r *Repo) DeleteLocation(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, lockLocationSQL, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
		}
		for _, q := range []string{deleteSubtreeLocalizationsSQL, deleteSubtreeAccommodationsSQL, deleteLocationSQL} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}
