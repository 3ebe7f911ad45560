package app

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"geolisting/internal/domain"
)

/********** alias registries (single source of truth) **********/

var listingAliases = map[string][]string{
	"id":          {"id", "listing_id", "property_id", "hotel_id"},
	"title":       {"title", "name", "hotel_name", "property_name"},
	"country":     {"country_code", "countryCode", "address.country_code", "address.country", "country"},
	"location":    {"location_id", "location.id", "locationId", "region_id"},
	"bedrooms":    {"bedroom_count", "bedrooms", "rooms.bedrooms", "room_count"},
	"score":       {"review_score", "rating", "scores.overall", "average_score"},
	"rate":        {"usd_rate", "price.usd", "rate.usd", "price", "rate"},
	"lat":         {"latitude", "lat", "location.lat", "center.lat"},
	"lon":         {"longitude", "lon", "lng", "location.lon", "location.lng", "center.lon"},
	"images":      {"images", "photos"},
	"amenities":   {"amenities", "facilities"},
	"published":   {"published", "is_published", "active"},
	"description": {"description", "markdown_description", "description_long", "text"},
	"policy":      {"policy", "policies", "important_info"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// firstString: first non-empty string (or integral number) among the aliases.
func firstString(m map[string]any, key string) string {
	for _, p := range listingAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatInt(int64(v), 10)
			}
		}
	}
	return ""
}

// firstFloat: number from several paths (float64 or strings like "8,5").
func firstFloat(m map[string]any, key string) (float64, bool) {
	for _, p := range listingAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case float64:
			return v, true
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func firstBool(m map[string]any, key string) bool {
	for _, p := range listingAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		case float64:
			return v != 0
		}
	}
	return false
}

// firstStrings: accept []any with either strings or {url/src/name}.
func firstStrings(m map[string]any, key string) []string {
	for _, p := range listingAliases[key] {
		raw, ok := lookupAny(m, p).([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(raw))
		for _, it := range raw {
			switch t := it.(type) {
			case string:
				if t != "" {
					out = append(out, t)
				}
			case map[string]any:
				for _, k := range []string{"url", "src", "name"} {
					if u, ok := t[k].(string); ok && u != "" {
						out = append(out, u)
						break
					}
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

/********** listing mapper **********/

// mapListing turns a raw feed payload into an Accommodation in feed. The
// owner is left unset.
func mapListing(feed domain.Feed, fallbackID string, p map[string]any) domain.Accommodation {
	a := domain.Accommodation{
		ID:          firstString(p, "id"),
		Feed:        feed,
		Title:       firstString(p, "title"),
		CountryCode: strings.ToUpper(firstString(p, "country")),
		LocationID:  firstString(p, "location"),
		Images:      firstStrings(p, "images"),
		Amenities:   firstStrings(p, "amenities"),
		Published:   firstBool(p, "published"),
	}
	if a.ID == "" {
		a.ID = fallbackID
	}
	if f, ok := firstFloat(p, "bedrooms"); ok && f >= 0 {
		a.BedroomCount = int(f)
	}
	if f, ok := firstFloat(p, "score"); ok {
		a.ReviewScore = domain.Score(math.Round(f * 10))
	}
	if f, ok := firstFloat(p, "rate"); ok {
		a.USDRate = domain.Cents(math.Round(f * 100))
	}
	lat, okLat := firstFloat(p, "lat")
	lon, okLon := firstFloat(p, "lon")
	if okLat && okLon {
		a.Center = domain.Point{Lon: lon, Lat: lat}
	}
	return a
}

/********** localization mapper **********/

func mapLocalization(key domain.AccommodationKey, lang string, p map[string]any) domain.Localization {
	l := domain.Localization{
		PropertyID:  key.ID,
		Feed:        key.Feed,
		Language:    lang,
		Description: firstString(p, "description"),
	}
	for _, path := range listingAliases["policy"] {
		v := lookupAny(p, path)
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("context", "mapLocalization").Msg("marshal policy failed")
			break
		}
		l.Policy = raw
		break
	}
	return l
}
