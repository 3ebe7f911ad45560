// Package csvimport reads Location rows exported as CSV with a header line:
// id, title, center, parent_id, location_type, country_code, state_abbr,
// city, created_at, updated_at. Column order is free; unknown columns are
// ignored.
package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"geolisting/internal/app"
	"geolisting/internal/domain"
)

var required = []string{"id", "title", "center", "location_type", "country_code"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Row is one parsed data line. Line counts the header as line 1.
type Row struct {
	Line     int
	Location domain.Location
	Err      error
}

type Importer interface {
	Import(ctx context.Context, rows []domain.Location) (app.ImportReport, error)
}

// Parse reads every data line. A malformed line becomes a Row with Err set;
// only a broken header or an unreadable stream fails the whole parse.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: missing header")
	}
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		col[h] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv: header lacks %q", name)
		}
	}

	var out []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			out = append(out, Row{Line: line, Err: err})
			continue
		}
		if err != nil {
			return nil, err
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if len(rec) == 1 && get("id") == "" {
			continue // blank line
		}
		l, err := toLocation(get)
		out = append(out, Row{Line: line, Location: l, Err: err})
	}
}

func toLocation(get func(string) string) (domain.Location, error) {
	l := domain.Location{
		ID:          get("id"),
		Title:       get("title"),
		Type:        domain.LocationType(strings.ToLower(get("location_type"))),
		CountryCode: strings.ToUpper(get("country_code")),
		ParentID:    optional(get("parent_id")),
		StateAbbr:   optional(get("state_abbr")),
		City:        optional(get("city")),
	}
	var err error
	if l.Center, err = domain.ParsePoint(get("center")); err != nil {
		return l, err
	}
	if l.CreatedAt, err = parseTime(get("created_at")); err != nil {
		return l, fmt.Errorf("created_at: %w", err)
	}
	if l.UpdatedAt, err = parseTime(get("updated_at")); err != nil {
		return l, fmt.Errorf("updated_at: %w", err)
	}
	return l, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Load parses r and hands the well-formed rows to imp. Rejections in the
// report carry CSV line numbers.
func Load(ctx context.Context, r io.Reader, imp Importer) (app.ImportReport, error) {
	rows, err := Parse(r)
	if err != nil {
		return app.ImportReport{}, err
	}
	var good []domain.Location
	var lines []int
	var bad []app.RowError
	for _, row := range rows {
		if row.Err != nil {
			bad = append(bad, app.RowError{Row: row.Line, ID: row.Location.ID, Err: row.Err})
			continue
		}
		good = append(good, row.Location)
		lines = append(lines, row.Line)
	}

	rep := app.ImportReport{}
	if len(good) > 0 {
		if rep, err = imp.Import(ctx, good); err != nil {
			return rep, err
		}
		for i := range rep.Rejected {
			rep.Rejected[i].Row = lines[rep.Rejected[i].Row-1]
		}
	}
	rep.Rejected = append(rep.Rejected, bad...)
	sort.Slice(rep.Rejected, func(i, j int) bool { return rep.Rejected[i].Row < rep.Rejected[j].Row })
	return rep, nil
}
