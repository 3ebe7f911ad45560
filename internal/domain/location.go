package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LocationType string

const (
	LocationCountry  LocationType = "country"
	LocationState    LocationType = "state"
	LocationProvince LocationType = "province"
	LocationCity     LocationType = "city"
)

// Point is a planar coordinate; X is longitude, Y is latitude.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// WKT renders the point as "POINT(lon lat)".
func (p Point) WKT() string {
	return "POINT(" + strconv.FormatFloat(p.Lon, 'f', -1, 64) + " " + strconv.FormatFloat(p.Lat, 'f', -1, 64) + ")"
}

// ParsePoint accepts "POINT(x y)" with an optional "SRID=n;" prefix.
func ParsePoint(s string) (Point, error) {
	in := strings.TrimSpace(s)
	if i := strings.IndexByte(in, ';'); i >= 0 && strings.HasPrefix(strings.ToUpper(in), "SRID=") {
		in = strings.TrimSpace(in[i+1:])
	}
	up := strings.ToUpper(in)
	if !strings.HasPrefix(up, "POINT") {
		return Point{}, fmt.Errorf("invalid point %q", s)
	}
	body := strings.TrimSpace(in[len("POINT"):])
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return Point{}, fmt.Errorf("invalid point %q", s)
	}
	parts := strings.Fields(body[1 : len(body)-1])
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid point %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return Point{Lon: x, Lat: y}, nil
}

type Location struct {
	ID          string       `json:"id" validate:"required,max=20"`
	Title       string       `json:"title" validate:"required,max=100"`
	Center      Point        `json:"center"`
	ParentID    *string      `json:"parent_id,omitempty" validate:"omitempty,max=20"`
	Type        LocationType `json:"location_type" validate:"required,oneof=country state province city"`
	CountryCode string       `json:"country_code" validate:"required,len=2"`
	StateAbbr   *string      `json:"state_abbr,omitempty" validate:"omitempty,max=3"`
	City        *string      `json:"city,omitempty" validate:"omitempty,max=30"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// String is the human label, which depends on the location type.
func (l Location) String() string {
	switch l.Type {
	case LocationCountry:
		return fmt.Sprintf("%s (%s)", l.Title, l.CountryCode)
	case LocationState, LocationProvince:
		return fmt.Sprintf("%s, %s (%s)", l.Title, l.CountryCode, deref(l.StateAbbr))
	case LocationCity:
		return fmt.Sprintf("%s, %s, %s", deref(l.City), deref(l.StateAbbr), l.CountryCode)
	}
	return l.Title
}

// LocationQuery filters ListLocations. Results are ordered by title.
type LocationQuery struct {
	Type     *LocationType
	ParentID *string
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
