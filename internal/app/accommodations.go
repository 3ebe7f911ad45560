package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"geolisting/internal/adapters/observability"
	"geolisting/internal/domain"
	"geolisting/internal/ownership"
	"geolisting/internal/policy"
)

// BeforeSave runs on every accommodation write, after the caller built the
// row and before it reaches storage. Hooks may fill fields; an error aborts
// the write.
type BeforeSave func(ctx context.Context, a *domain.Accommodation) error

// StampOwner sets the owner from the acting user bound to ctx when the row
// has none. An explicit owner is never replaced, and with no acting user the
// row stays ownerless.
func StampOwner(ctx context.Context, a *domain.Accommodation) error {
	if a.OwnerID != nil {
		return nil
	}
	if u := ownership.CurrentUser(ctx); u != nil {
		id := u.ID
		a.OwnerID = &id
	}
	return nil
}

// AccommodationStore is the write path for accommodations and their
// localizations. Every Save, insert or update, runs StampOwner first.
type AccommodationStore struct {
	repo  domain.AccommodationRepository
	cache domain.Cache
	hooks []BeforeSave
}

func NewAccommodationStore(repo domain.AccommodationRepository, cache domain.Cache, hooks ...BeforeSave) *AccommodationStore {
	return &AccommodationStore{
		repo:  repo,
		cache: cache,
		hooks: append([]BeforeSave{StampOwner}, hooks...),
	}
}

// Save upserts a. A row that ends up with no owner keeps the stored one.
func (s *AccommodationStore) Save(ctx context.Context, a domain.Accommodation) (domain.Accommodation, error) {
	return s.write(ctx, a, s.repo.SaveAccommodation)
}

// Create inserts a and fails with domain.ErrDuplicate if the key is taken.
func (s *AccommodationStore) Create(ctx context.Context, a domain.Accommodation) (domain.Accommodation, error) {
	return s.write(ctx, a, s.repo.InsertAccommodation)
}

func (s *AccommodationStore) write(ctx context.Context, a domain.Accommodation, persist func(context.Context, domain.Accommodation) error) (domain.Accommodation, error) {
	source := "explicit"
	if a.OwnerID == nil {
		source = "context"
	}
	for _, h := range s.hooks {
		if err := h(ctx, &a); err != nil {
			return domain.Accommodation{}, err
		}
	}
	if a.OwnerID == nil {
		source = "none"
	}
	if err := domain.Validate(a); err != nil {
		return domain.Accommodation{}, err
	}
	if err := persist(ctx, a); err != nil {
		return domain.Accommodation{}, err
	}
	observability.ObserveSave(source)
	s.invalidate(ctx, a.Key())
	return s.repo.GetAccommodation(ctx, a.Key())
}

func (s *AccommodationStore) SaveLocalization(ctx context.Context, l domain.Localization) (domain.Localization, error) {
	if err := domain.Validate(l); err != nil {
		return domain.Localization{}, err
	}
	saved, err := s.repo.SaveLocalization(ctx, l)
	if err != nil {
		return domain.Localization{}, err
	}
	s.invalidate(ctx, domain.AccommodationKey{ID: l.PropertyID, Feed: l.Feed})
	return saved, nil
}

func (s *AccommodationStore) Delete(ctx context.Context, key domain.AccommodationKey) error {
	if err := s.repo.DeleteAccommodation(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *AccommodationStore) invalidate(ctx context.Context, key domain.AccommodationKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, listingCacheKey(key)); err != nil {
		log.Warn().Err(err).Str("id", key.ID).Int16("feed", int16(key.Feed)).Msg("listing cache evict failed")
	}
}

// AccommodationAdmin is the policy-gated management surface. The requester
// is always the user bound to ctx.
type AccommodationAdmin struct {
	store *AccommodationStore
	repo  domain.AccommodationRepository
}

func NewAccommodationAdmin(store *AccommodationStore, repo domain.AccommodationRepository) *AccommodationAdmin {
	return &AccommodationAdmin{store: store, repo: repo}
}

func (s *AccommodationAdmin) List(ctx context.Context, f domain.AccommodationFilter) ([]domain.Accommodation, error) {
	scope := policy.ListScope(ownership.CurrentUser(ctx))
	observability.ObservePolicy(string(policy.View), scopeLabel(scope))
	f, ok := scope.Apply(f)
	if !ok {
		return []domain.Accommodation{}, nil
	}
	return s.repo.ListAccommodations(ctx, f)
}

// Get hides rows outside the requester's scope as not found.
func (s *AccommodationAdmin) Get(ctx context.Context, key domain.AccommodationKey) (domain.Accommodation, error) {
	a, err := s.repo.GetAccommodation(ctx, key)
	if err != nil {
		return domain.Accommodation{}, err
	}
	if !policy.ListScope(ownership.CurrentUser(ctx)).Allows(a) {
		return domain.Accommodation{}, fmt.Errorf("accommodation %s/%d: %w", key.ID, key.Feed, domain.ErrNotFound)
	}
	return a, nil
}

func (s *AccommodationAdmin) Create(ctx context.Context, a domain.Accommodation) (domain.Accommodation, error) {
	if err := authorize(ctx, policy.Add, a); err != nil {
		return domain.Accommodation{}, err
	}
	return s.store.Create(ctx, a)
}

// Update replaces the stored row. The owner is kept from the stored row
// unless a superuser supplies one.
func (s *AccommodationAdmin) Update(ctx context.Context, a domain.Accommodation) (domain.Accommodation, error) {
	cur, err := s.repo.GetAccommodation(ctx, a.Key())
	if err != nil {
		return domain.Accommodation{}, err
	}
	if err := authorize(ctx, policy.Change, cur); err != nil {
		return domain.Accommodation{}, err
	}
	if u := ownership.CurrentUser(ctx); u == nil || !u.IsSuperuser || a.OwnerID == nil {
		a.OwnerID = cur.OwnerID
	}
	return s.store.Save(ctx, a)
}

func (s *AccommodationAdmin) Delete(ctx context.Context, key domain.AccommodationKey) error {
	cur, err := s.repo.GetAccommodation(ctx, key)
	if err != nil {
		return err
	}
	if err := authorize(ctx, policy.Delete, cur); err != nil {
		return err
	}
	return s.store.Delete(ctx, key)
}

// SaveLocalization needs change rights on the parent accommodation.
func (s *AccommodationAdmin) SaveLocalization(ctx context.Context, l domain.Localization) (domain.Localization, error) {
	parent, err := s.repo.GetAccommodation(ctx, domain.AccommodationKey{ID: l.PropertyID, Feed: l.Feed})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Localization{}, fmt.Errorf("localization of %s/%d: %w", l.PropertyID, l.Feed, domain.ErrMissingReference)
	}
	if err != nil {
		return domain.Localization{}, err
	}
	if err := authorize(ctx, policy.Change, parent); err != nil {
		return domain.Localization{}, err
	}
	return s.store.SaveLocalization(ctx, l)
}

func (s *AccommodationAdmin) ListLocalizations(ctx context.Context, key domain.AccommodationKey) ([]domain.Localization, error) {
	if _, err := s.Get(ctx, key); err != nil {
		return nil, err
	}
	return s.repo.ListLocalizations(ctx, key)
}

func authorize(ctx context.Context, op policy.Operation, a domain.Accommodation) error {
	u := ownership.CurrentUser(ctx)
	err := policy.Authorize(u, op, a)
	decision := "allow"
	if err != nil {
		decision = "deny"
		ev := log.Debug().Str("op", string(op)).Str("id", a.ID).Int16("feed", int16(a.Feed))
		if u != nil {
			ev = ev.Str("user", u.Username)
		}
		ev.Msg("policy refused")
	}
	observability.ObservePolicy(string(op), decision)
	return err
}

func scopeLabel(s policy.Scope) string {
	switch {
	case s.All():
		return "all"
	case s.Empty():
		return "none"
	}
	return "owned"
}

func listingCacheKey(key domain.AccommodationKey) string {
	return "listing:" + strconv.Itoa(int(key.Feed)) + ":" + key.ID
}
