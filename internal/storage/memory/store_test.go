package memory_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"geolisting/internal/domain"
	"geolisting/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func seed(c *qt.C, s *memory.Store) {
	ctx := context.Background()
	c.Assert(s.UpsertLocation(ctx, domain.Location{ID: "us", Title: "United States", Type: domain.LocationCountry, CountryCode: "US"}), qt.IsNil)
	c.Assert(s.UpsertLocation(ctx, domain.Location{ID: "ca", Title: "California", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("us")}), qt.IsNil)
	c.Assert(s.UpsertLocation(ctx, domain.Location{ID: "sf", Title: "San Francisco", Type: domain.LocationCity, CountryCode: "US", ParentID: ptr("ca")}), qt.IsNil)
}

func TestUnknownFeedIsRejected(t *testing.T) {
	c := qt.New(t)
	s := memory.New()
	seed(c, s)

	err := s.SaveAccommodation(context.Background(), domain.Accommodation{ID: "a1", Feed: 7, Title: "x", CountryCode: "US", LocationID: "sf"})
	c.Assert(err, qt.ErrorIs, domain.ErrNoPartition)

	c.Assert(s.AddFeedPartition(context.Background(), 7), qt.IsNil)
	c.Assert(s.AddFeedPartition(context.Background(), 7), qt.IsNil)
	err = s.SaveAccommodation(context.Background(), domain.Accommodation{ID: "a1", Feed: 7, Title: "x", CountryCode: "US", LocationID: "sf"})
	c.Assert(err, qt.IsNil)

	p, err := s.Partitions(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(p.Feeds, qt.DeepEquals, []domain.Feed{0, 1, 2, 7})
}

func TestLocalizationNeedsParentInSameFeed(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()
	seed(c, s)
	c.Assert(s.SaveAccommodation(ctx, domain.Accommodation{ID: "a1", Feed: 0, Title: "x", CountryCode: "US", LocationID: "sf"}), qt.IsNil)

	_, err := s.SaveLocalization(ctx, domain.Localization{PropertyID: "a1", Feed: 1, Language: "en"})
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)

	_, err = s.SaveLocalization(ctx, domain.Localization{PropertyID: "a1", Feed: 0, Language: "es"})
	c.Assert(err, qt.ErrorIs, domain.ErrNoPartition)

	first, err := s.SaveLocalization(ctx, domain.Localization{PropertyID: "a1", Feed: 0, Language: "en", Description: "one"})
	c.Assert(err, qt.IsNil)
	second, err := s.SaveLocalization(ctx, domain.Localization{PropertyID: "a1", Feed: 0, Language: "en", Description: "two"})
	c.Assert(err, qt.IsNil)
	c.Assert(second.ID, qt.Equals, first.ID)

	ls, err := s.ListLocalizations(ctx, domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.IsNil)
	c.Assert(ls, qt.HasLen, 1)
	c.Assert(ls[0].Description, qt.Equals, "two")
}

func TestSameIDInTwoFeeds(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()
	seed(c, s)
	c.Assert(s.SaveAccommodation(ctx, domain.Accommodation{ID: "a1", Feed: 0, Title: "zero", CountryCode: "US", LocationID: "sf"}), qt.IsNil)
	c.Assert(s.SaveAccommodation(ctx, domain.Accommodation{ID: "a1", Feed: 1, Title: "one", CountryCode: "US", LocationID: "sf"}), qt.IsNil)

	got, err := s.GetAccommodation(ctx, domain.AccommodationKey{ID: "a1", Feed: 1})
	c.Assert(err, qt.IsNil)
	c.Assert(got.Title, qt.Equals, "one")

	all, err := s.ListAccommodations(ctx, domain.AccommodationFilter{})
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 2)
}

func TestDeleteLocationCascades(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()
	seed(c, s)
	c.Assert(s.SaveAccommodation(ctx, domain.Accommodation{ID: "a1", Feed: 0, Title: "x", CountryCode: "US", LocationID: "sf"}), qt.IsNil)
	_, err := s.SaveLocalization(ctx, domain.Localization{PropertyID: "a1", Feed: 0, Language: "fr"})
	c.Assert(err, qt.IsNil)

	c.Assert(s.DeleteLocation(ctx, "ca"), qt.IsNil)

	_, err = s.GetLocation(ctx, "sf")
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)
	_, err = s.GetAccommodation(ctx, domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)
	ls, err := s.ListLocalizations(ctx, domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.IsNil)
	c.Assert(ls, qt.HasLen, 0)

	_, err = s.GetLocation(ctx, "us")
	c.Assert(err, qt.IsNil)
}

func TestMissingParentAndOwner(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()

	err := s.UpsertLocation(ctx, domain.Location{ID: "x", Title: "x", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("nope")})
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)

	seed(c, s)
	err = s.SaveAccommodation(ctx, domain.Accommodation{ID: "a1", Title: "x", CountryCode: "US", LocationID: "sf", OwnerID: ptr(int64(99))})
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)
}

func TestRolesAndUsers(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()

	_, err := s.CreateUser(ctx, domain.User{Username: "ann"}, domain.PropertyOwnersRole)
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)

	r, err := s.EnsureRole(ctx, domain.Role{Name: domain.PropertyOwnersRole, Permissions: []string{domain.PermViewAccommodation}}, false)
	c.Assert(err, qt.IsNil)
	again, err := s.EnsureRole(ctx, domain.Role{Name: domain.PropertyOwnersRole, Permissions: domain.PropertyOwnerPermissions}, false)
	c.Assert(err, qt.IsNil)
	c.Assert(again.ID, qt.Equals, r.ID)
	c.Assert(again.Permissions, qt.DeepEquals, []string{domain.PermViewAccommodation})

	u, err := s.CreateUser(ctx, domain.User{Username: "ann"}, domain.PropertyOwnersRole)
	c.Assert(err, qt.IsNil)
	c.Assert(u.InRole(domain.PropertyOwnersRole), qt.IsTrue)
	c.Assert(u.HasPermission(domain.PermViewAccommodation), qt.IsTrue)

	_, err = s.CreateUser(ctx, domain.User{Username: "ann"})
	c.Assert(err, qt.ErrorIs, domain.ErrDuplicate)

	_, err = s.EnsureRole(ctx, domain.Role{Name: domain.PropertyOwnersRole, Permissions: domain.PropertyOwnerPermissions}, true)
	c.Assert(err, qt.IsNil)
	u, err = s.GetUserByUsername(ctx, "ann")
	c.Assert(err, qt.IsNil)
	c.Assert(u.HasPermission(domain.PermChangeAccommodation), qt.IsTrue)
}

func TestInsertRefusesTakenKey(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()
	seed(c, s)
	a := domain.Accommodation{ID: "a1", Feed: 0, Title: "x", CountryCode: "US", LocationID: "sf"}

	c.Assert(s.InsertAccommodation(ctx, a), qt.IsNil)
	c.Assert(s.InsertAccommodation(ctx, a), qt.ErrorIs, domain.ErrDuplicate)
	a.Feed = 1
	c.Assert(s.InsertAccommodation(ctx, a), qt.IsNil)
	a.Feed = 7
	c.Assert(s.InsertAccommodation(ctx, a), qt.ErrorIs, domain.ErrNoPartition)
}

func TestUpsertWithoutOwnerKeepsStoredOwner(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := memory.New()
	seed(c, s)
	u, err := s.CreateUser(ctx, domain.User{Username: "owner", Email: "o@example.com"})
	c.Assert(err, qt.IsNil)

	a := domain.Accommodation{ID: "a1", Feed: 0, Title: "x", CountryCode: "US", LocationID: "sf", OwnerID: &u.ID}
	c.Assert(s.SaveAccommodation(ctx, a), qt.IsNil)
	a.OwnerID = nil
	a.Title = "y"
	c.Assert(s.SaveAccommodation(ctx, a), qt.IsNil)

	got, err := s.GetAccommodation(ctx, a.Key())
	c.Assert(err, qt.IsNil)
	c.Assert(got.Title, qt.Equals, "y")
	c.Assert(got.OwnerID, qt.IsNotNil)
	c.Assert(*got.OwnerID, qt.Equals, u.ID)
}
