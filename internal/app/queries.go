package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"geolisting/internal/domain"
)

// FallbackLanguage is served when a listing has no overlay in the requested
// language.
const FallbackLanguage = "en"

type QueryService struct {
	repo     domain.AccommodationRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.AccommodationRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

// listingBundle is what gets cached per accommodation: the row plus every
// overlay, so one entry serves all languages.
type listingBundle struct {
	Accommodation domain.Accommodation  `json:"accommodation"`
	Localizations []domain.Localization `json:"localizations"`
}

// GetListing returns the public view of a published accommodation. Rows
// that are not published are reported as not found.
func (s *QueryService) GetListing(ctx context.Context, key domain.AccommodationKey, lang string) (domain.ListingView, error) {
	ck := listingCacheKey(key)
	var b listingBundle
	if !s.cached(ctx, ck, &b) {
		a, err := s.repo.GetAccommodation(ctx, key)
		if err != nil {
			return domain.ListingView{}, err
		}
		if !a.Published {
			return domain.ListingView{}, fmt.Errorf("listing %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
		}
		ls, err := s.repo.ListLocalizations(ctx, key)
		if err != nil {
			return domain.ListingView{}, err
		}
		b = listingBundle{Accommodation: a, Localizations: ls}
		if raw, _ := json.Marshal(b); s.cache != nil && len(raw) < 1_000_000 {
			_ = s.cache.Set(ctx, ck, b, int(s.cacheTTL.Seconds()))
		}
	}
	return resolveListing(b, lang), nil
}

func (s *QueryService) cached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Get(ctx, key, dst)
	return ok && err == nil
}

func resolveListing(b listingBundle, lang string) domain.ListingView {
	a := b.Accommodation
	v := domain.ListingView{
		ID:           a.ID,
		Feed:         a.Feed,
		Title:        a.Title,
		CountryCode:  a.CountryCode,
		BedroomCount: a.BedroomCount,
		ReviewScore:  a.ReviewScore,
		USDRate:      a.USDRate,
		Center:       a.Center,
		Images:       append([]string{}, a.Images...),
		Amenities:    append([]string{}, a.Amenities...),
		LocationID:   a.LocationID,
		Language:     lang,
	}
	l, ok := pickLocalization(b.Localizations, lang)
	if !ok {
		return v
	}
	desc := l.Description
	v.Language = l.Language
	v.Description = &desc
	v.Policy = append(json.RawMessage(nil), l.Policy...)
	return v
}

func pickLocalization(ls []domain.Localization, lang string) (domain.Localization, bool) {
	var fallback *domain.Localization
	for i := range ls {
		switch ls[i].Language {
		case lang:
			return ls[i], true
		case FallbackLanguage:
			fallback = &ls[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.Localization{}, false
}
