// Package memory is an in-process storage backend for development and
// tests. It routes rows into per-feed and per-language partitions itself and
// rejects partition values that have no partition, the same way the SQL
// backends do.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"geolisting/internal/domain"
)

type locKey struct {
	propertyID string
	feed       domain.Feed
}

type missKey struct {
	feed   domain.Feed
	id     string
	reason string
}

type Miss struct {
	Feed   domain.Feed
	ID     string
	Status int
	Reason string
	SeenAt time.Time
}

var _ domain.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	locations      map[string]domain.Location
	accommodations map[domain.Feed]map[string]domain.Accommodation
	localizations  map[string]map[locKey]domain.Localization
	users          map[int64]domain.User
	usernames      map[string]int64
	roles          map[string]domain.Role
	memberships    map[int64][]string
	misses         map[missKey]Miss

	nextLocalizationID int64
	nextUserID         int64
	nextRoleID         int64

	now func() time.Time
}

// DefaultFeeds and DefaultLanguages are the partitions every backend starts with.
var (
	DefaultFeeds     = []domain.Feed{0, 1, 2}
	DefaultLanguages = []string{"en", "fr", "de"}
)

func New() *Store {
	s := &Store{
		locations:      map[string]domain.Location{},
		accommodations: map[domain.Feed]map[string]domain.Accommodation{},
		localizations:  map[string]map[locKey]domain.Localization{},
		users:          map[int64]domain.User{},
		usernames:      map[string]int64{},
		roles:          map[string]domain.Role{},
		memberships:    map[int64][]string{},
		misses:         map[missKey]Miss{},
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, f := range DefaultFeeds {
		s.accommodations[f] = map[string]domain.Accommodation{}
	}
	for _, l := range DefaultLanguages {
		s.localizations[l] = map[locKey]domain.Localization{}
	}
	return s
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Close() error                  { return nil }

/********** locations **********/

func (s *Store) UpsertLocation(_ context.Context, l domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ParentID != nil {
		if _, ok := s.locations[*l.ParentID]; !ok && *l.ParentID != l.ID {
			return fmt.Errorf("location %s parent %s: %w", l.ID, *l.ParentID, domain.ErrMissingReference)
		}
	}
	now := s.now()
	if prev, ok := s.locations[l.ID]; ok {
		l.CreatedAt = prev.CreatedAt
	} else if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	s.locations[l.ID] = cloneLocation(l)
	return nil
}

func (s *Store) GetLocation(_ context.Context, id string) (domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok {
		return domain.Location{}, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	return cloneLocation(l), nil
}

func (s *Store) ListLocations(_ context.Context, q domain.LocationQuery) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Location
	for _, l := range s.locations {
		if q.Type != nil && l.Type != *q.Type {
			continue
		}
		if q.ParentID != nil && (l.ParentID == nil || *l.ParentID != *q.ParentID) {
			continue
		}
		out = append(out, cloneLocation(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteLocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[id]; !ok {
		return fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for lid, l := range s.locations {
			if !doomed[lid] && l.ParentID != nil && doomed[*l.ParentID] {
				doomed[lid] = true
				changed = true
			}
		}
	}
	for _, part := range s.accommodations {
		for aid, a := range part {
			if doomed[a.LocationID] {
				delete(part, aid)
				s.dropLocalizations(locKey{propertyID: aid, feed: a.Feed})
			}
		}
	}
	for lid := range doomed {
		delete(s.locations, lid)
	}
	return nil
}

/********** accommodations **********/

func (s *Store) SaveAccommodation(_ context.Context, a domain.Accommodation) error {
	return s.putAccommodation(a, false)
}

func (s *Store) InsertAccommodation(_ context.Context, a domain.Accommodation) error {
	return s.putAccommodation(a, true)
}

func (s *Store) putAccommodation(a domain.Accommodation, insertOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.accommodations[a.Feed]
	if !ok {
		return fmt.Errorf("accommodation %s feed %d: %w", a.ID, a.Feed, domain.ErrNoPartition)
	}
	if _, ok := s.locations[a.LocationID]; !ok {
		return fmt.Errorf("accommodation %s location %s: %w", a.ID, a.LocationID, domain.ErrMissingReference)
	}
	if a.OwnerID != nil {
		if _, ok := s.users[*a.OwnerID]; !ok {
			return fmt.Errorf("accommodation %s user %d: %w", a.ID, *a.OwnerID, domain.ErrMissingReference)
		}
	}
	now := s.now()
	if prev, ok := part[a.ID]; ok {
		if insertOnly {
			return fmt.Errorf("accommodation %s/%d: %w", a.ID, a.Feed, domain.ErrDuplicate)
		}
		a.CreatedAt = prev.CreatedAt
		if a.OwnerID == nil {
			a.OwnerID = prev.OwnerID
		}
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	part[a.ID] = cloneAccommodation(a)
	return nil
}

func (s *Store) GetAccommodation(_ context.Context, key domain.AccommodationKey) (domain.Accommodation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accommodations[key.Feed][key.ID]
	if !ok {
		return domain.Accommodation{}, fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	return cloneAccommodation(a), nil
}

func (s *Store) ListAccommodations(_ context.Context, f domain.AccommodationFilter) ([]domain.Accommodation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Accommodation
	for feed, part := range s.accommodations {
		if f.Feed != nil && feed != *f.Feed {
			continue
		}
		for _, a := range part {
			if matches(a, f) {
				out = append(out, cloneAccommodation(a))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feed != out[j].Feed {
			return out[i].Feed < out[j].Feed
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(a domain.Accommodation, f domain.AccommodationFilter) bool {
	if f.OwnerID != nil && (a.OwnerID == nil || *a.OwnerID != *f.OwnerID) {
		return false
	}
	if f.Published != nil && a.Published != *f.Published {
		return false
	}
	if f.CountryCode != nil && !strings.EqualFold(a.CountryCode, *f.CountryCode) {
		return false
	}
	if f.Query != nil && !strings.Contains(strings.ToLower(a.Title), strings.ToLower(*f.Query)) {
		return false
	}
	return true
}

func (s *Store) DeleteAccommodation(_ context.Context, key domain.AccommodationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.accommodations[key.Feed]
	if _, ok := part[key.ID]; !ok {
		return fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	delete(part, key.ID)
	s.dropLocalizations(locKey{propertyID: key.ID, feed: key.Feed})
	return nil
}

func (s *Store) dropLocalizations(k locKey) {
	for _, part := range s.localizations {
		delete(part, k)
	}
}

/********** localizations **********/

func (s *Store) SaveLocalization(_ context.Context, l domain.Localization) (domain.Localization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.localizations[l.Language]
	if !ok {
		return domain.Localization{}, fmt.Errorf("localization language %q: %w", l.Language, domain.ErrNoPartition)
	}
	if _, ok := s.accommodations[l.Feed][l.PropertyID]; !ok {
		return domain.Localization{}, fmt.Errorf("localization of %s/%d: %w", l.PropertyID, l.Feed, domain.ErrMissingReference)
	}
	k := locKey{propertyID: l.PropertyID, feed: l.Feed}
	now := s.now()
	if prev, ok := part[k]; ok {
		l.ID = prev.ID
		l.CreatedAt = prev.CreatedAt
	} else {
		s.nextLocalizationID++
		l.ID = s.nextLocalizationID
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	l.Policy = slices.Clone(l.Policy)
	part[k] = l
	return l, nil
}

func (s *Store) ListLocalizations(_ context.Context, key domain.AccommodationKey) ([]domain.Localization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Localization
	k := locKey{propertyID: key.ID, feed: key.Feed}
	for _, part := range s.localizations {
		if l, ok := part[k]; ok {
			l.Policy = slices.Clone(l.Policy)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

/********** partitions **********/

func (s *Store) Partitions(context.Context) (domain.Partitions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p domain.Partitions
	for f := range s.accommodations {
		p.Feeds = append(p.Feeds, f)
	}
	for l := range s.localizations {
		p.Languages = append(p.Languages, l)
	}
	slices.Sort(p.Feeds)
	slices.Sort(p.Languages)
	return p, nil
}

func (s *Store) AddFeedPartition(_ context.Context, feed domain.Feed) error {
	if feed < 0 {
		return fmt.Errorf("feed %d must not be negative", feed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accommodations[feed]; !ok {
		s.accommodations[feed] = map[string]domain.Accommodation{}
	}
	return nil
}

func (s *Store) AddLanguagePartition(_ context.Context, lang string) error {
	if !domain.ValidLanguage(lang) {
		return fmt.Errorf("language %q must be two lowercase letters", lang)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.localizations[lang]; !ok {
		s.localizations[lang] = map[locKey]domain.Localization{}
	}
	return nil
}

/********** ingest log **********/

func (s *Store) LogMiss(_ context.Context, feed domain.Feed, id string, status int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses[missKey{feed: feed, id: id, reason: reason}] = Miss{Feed: feed, ID: id, Status: status, Reason: reason, SeenAt: s.now()}
	return nil
}

// Misses returns the recorded ingest misses, for inspection in tests.
func (s *Store) Misses() []Miss {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Miss, 0, len(s.misses))
	for _, m := range s.misses {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func cloneLocation(l domain.Location) domain.Location {
	l.ParentID = cloneStr(l.ParentID)
	l.StateAbbr = cloneStr(l.StateAbbr)
	l.City = cloneStr(l.City)
	return l
}

func cloneAccommodation(a domain.Accommodation) domain.Accommodation {
	a.Images = slices.Clone(a.Images)
	a.Amenities = slices.Clone(a.Amenities)
	if a.OwnerID != nil {
		id := *a.OwnerID
		a.OwnerID = &id
	}
	return a
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
