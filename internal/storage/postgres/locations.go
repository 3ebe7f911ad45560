package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"geolisting/internal/domain"
)

func (r *Repo) UpsertLocation(ctx context.Context, l domain.Location) error {
	_, err := r.pool.Exec(ctx, upsertLocationSQL,
		l.ID,
		l.Title,
		l.Center.Lon,
		l.Center.Lat,
		l.ParentID,
		string(l.Type),
		strings.ToUpper(l.CountryCode),
		l.StateAbbr,
		l.City,
		valTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("location %s: %w", l.ID, mapErr(err))
	}
	return nil
}

func scanLocation(row pgx.Row) (domain.Location, error) {
	var l domain.Location
	var typ string
	err := row.Scan(
		&l.ID, &l.Title, &l.Center.Lon, &l.Center.Lat, &l.ParentID, &typ,
		&l.CountryCode, &l.StateAbbr, &l.City, &l.CreatedAt, &l.UpdatedAt,
	)
	l.Type = domain.LocationType(typ)
	return l, err
}

func (r *Repo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	l, err := scanLocation(r.pool.QueryRow(ctx, getLocationSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	return l, err
}

func (r *Repo) ListLocations(ctx context.Context, q domain.LocationQuery) ([]domain.Location, error) {
	var where []string
	var args []any
	if q.Type != nil {
		args = append(args, string(*q.Type))
		where = append(where, fmt.Sprintf("location_type = $%d", len(args)))
	}
	if q.ParentID != nil {
		args = append(args, *q.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	query := selectLocationCols
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY title, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Location, error) {
		return scanLocation(row)
	})
}

// DeleteLocation relies on the cascade chain: child locations, their
// accommodations and those accommodations' localizations.
func (r *Repo) DeleteLocation(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteLocationSQL, id)
	if err != nil {
		return fmt.Errorf("location %s: %w", id, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
