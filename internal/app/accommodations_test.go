package app_test

import (
	"context"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"geolisting/internal/app"
	"geolisting/internal/domain"
)

func TestSaveStampsOwnerFromContext(t *testing.T) {
	c, f := withT(t)

	got, err := f.writes.Save(f.as(&f.owner), listing("a1", 0))
	c.Assert(err, qt.IsNil)
	c.Assert(got.OwnerID, qt.IsNotNil)
	c.Assert(*got.OwnerID, qt.Equals, f.owner.ID)

	// update path stamps too when the owner was cleared
	upd := got
	upd.OwnerID = nil
	upd.Title = "renamed"
	got, err = f.writes.Save(f.as(&f.other), upd)
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, f.other.ID)
}

func TestSaveKeepsExplicitOwner(t *testing.T) {
	c, f := withT(t)
	a := listing("a1", 0)
	a.OwnerID = &f.other.ID

	got, err := f.writes.Save(f.as(&f.owner), a)
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, f.other.ID)
}

func TestSaveWithoutUserIsOwnerless(t *testing.T) {
	c, f := withT(t)

	got, err := f.writes.Save(context.Background(), listing("a1", 0))
	c.Assert(err, qt.IsNil)
	c.Assert(got.OwnerID, qt.IsNil)

	got, err = f.writes.Save(f.as(nil), listing("a2", 1))
	c.Assert(err, qt.IsNil)
	c.Assert(got.OwnerID, qt.IsNil)
}

func TestAnonymousResaveKeepsOwner(t *testing.T) {
	c, f := withT(t)
	_, err := f.writes.Save(f.as(&f.owner), listing("p1", 0))
	c.Assert(err, qt.IsNil)

	// a feed re-ingest writes with no acting user
	again := listing("p1", 0)
	again.Title = "Refreshed"
	got, err := f.writes.Save(f.as(nil), again)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Title, qt.Equals, "Refreshed")
	c.Assert(got.OwnerID, qt.IsNotNil)
	c.Assert(*got.OwnerID, qt.Equals, f.owner.ID)

	mine, err := f.admin.List(f.as(&f.owner), domain.AccommodationFilter{})
	c.Assert(err, qt.IsNil)
	c.Assert(mine, qt.HasLen, 1)
}

func TestSaveRunsExtraHooksAfterStamp(t *testing.T) {
	c, f := withT(t)
	var seen *int64
	store := app.NewAccommodationStore(f.store, nil, func(_ context.Context, a *domain.Accommodation) error {
		seen = a.OwnerID
		return nil
	})
	_, err := store.Save(f.as(&f.owner), listing("a1", 0))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsNotNil)
	c.Assert(*seen, qt.Equals, f.owner.ID)
}

func TestSaveRejectsUnknownFeed(t *testing.T) {
	c, f := withT(t)
	_, err := f.writes.Save(f.as(&f.root), listing("a1", 9))
	c.Assert(err, qt.ErrorIs, domain.ErrNoPartition)
}

func TestSaveValidates(t *testing.T) {
	c, f := withT(t)
	a := listing("a1", 0)
	a.CountryCode = "USA"
	_, err := f.writes.Save(context.Background(), a)
	var ve *domain.ValidationError
	c.Assert(err, qt.ErrorAs, &ve)
	c.Assert(ve.Fields["country_code"], qt.Not(qt.Equals), "")
}

func TestListIsScopedByRole(t *testing.T) {
	c, f := withT(t)
	_, err := f.admin.Create(f.as(&f.owner), listing("mine", 0))
	c.Assert(err, qt.IsNil)
	_, err = f.admin.Create(f.as(&f.other), listing("theirs", 1))
	c.Assert(err, qt.IsNil)
	_, err = f.writes.Save(context.Background(), listing("feed", 2))
	c.Assert(err, qt.IsNil)

	ids := func(u *domain.User) []string {
		rows, err := f.admin.List(f.as(u), domain.AccommodationFilter{})
		c.Assert(err, qt.IsNil)
		out := []string{}
		for _, r := range rows {
			out = append(out, r.ID)
		}
		return out
	}
	c.Assert(ids(&f.root), qt.DeepEquals, []string{"mine", "theirs", "feed"})
	c.Assert(ids(&f.owner), qt.DeepEquals, []string{"mine"})
	c.Assert(ids(&f.stranger), qt.DeepEquals, []string{})
	c.Assert(ids(nil), qt.DeepEquals, []string{})

	// an owner cannot widen the filter to somebody else
	rows, err := f.admin.List(f.as(&f.owner), domain.AccommodationFilter{OwnerID: &f.other.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.HasLen, 0)
}

func TestOwnerCannotChangeOthersRows(t *testing.T) {
	c, f := withT(t)
	a, err := f.admin.Create(f.as(&f.other), listing("theirs", 0))
	c.Assert(err, qt.IsNil)

	a.Title = "hijacked"
	_, err = f.admin.Update(f.as(&f.owner), a)
	c.Assert(err, qt.ErrorIs, domain.ErrPermissionDenied)

	_, err = f.admin.Get(f.as(&f.owner), a.Key())
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)

	_, err = f.admin.SaveLocalization(f.as(&f.owner), domain.Localization{PropertyID: a.ID, Feed: a.Feed, Language: "en"})
	c.Assert(err, qt.ErrorIs, domain.ErrPermissionDenied)

	stored, err := f.store.GetAccommodation(context.Background(), a.Key())
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Title, qt.Equals, "Listing theirs")
}

func TestOwnerCannotCreateForSomebodyElse(t *testing.T) {
	c, f := withT(t)
	a := listing("x", 0)
	a.OwnerID = &f.other.ID
	_, err := f.admin.Create(f.as(&f.owner), a)
	c.Assert(err, qt.ErrorIs, domain.ErrPermissionDenied)

	_, err = f.admin.Create(f.as(&f.stranger), listing("y", 0))
	c.Assert(err, qt.ErrorIs, domain.ErrPermissionDenied)
}

func TestUpdateKeepsOwnerUnlessSuperuser(t *testing.T) {
	c, f := withT(t)
	a, err := f.admin.Create(f.as(&f.owner), listing("a1", 0))
	c.Assert(err, qt.IsNil)

	a.OwnerID = &f.other.ID
	got, err := f.admin.Update(f.as(&f.owner), a)
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, f.owner.ID)

	got.OwnerID = nil
	got, err = f.admin.Update(f.as(&f.root), got)
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, f.owner.ID)

	got.OwnerID = &f.other.ID
	got, err = f.admin.Update(f.as(&f.root), got)
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, f.other.ID)
}

func TestDeleteNeedsDeleteCapability(t *testing.T) {
	c, f := withT(t)
	a, err := f.admin.Create(f.as(&f.owner), listing("a1", 0))
	c.Assert(err, qt.IsNil)

	c.Assert(f.admin.Delete(f.as(&f.owner), a.Key()), qt.ErrorIs, domain.ErrPermissionDenied)
	c.Assert(f.admin.Delete(f.as(&f.root), a.Key()), qt.IsNil)
	_, err = f.store.GetAccommodation(context.Background(), a.Key())
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	c, f := withT(t)
	_, err := f.admin.Create(f.as(&f.root), listing("a1", 0))
	c.Assert(err, qt.IsNil)
	_, err = f.admin.Create(f.as(&f.root), listing("a1", 0))
	c.Assert(err, qt.ErrorIs, domain.ErrDuplicate)
	_, err = f.admin.Create(f.as(&f.root), listing("a1", 1))
	c.Assert(err, qt.IsNil)
}

func TestConcurrentCreatesHaveOneWinner(t *testing.T) {
	c, f := withT(t)
	users := []*domain.User{&f.owner, &f.other}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.admin.Create(f.as(u), listing("a1", 0))
		}()
	}
	wg.Wait()

	var winner *domain.User
	for i, err := range errs {
		if err == nil {
			c.Assert(winner, qt.IsNil)
			winner = users[i]
			continue
		}
		c.Assert(err, qt.ErrorIs, domain.ErrDuplicate)
	}
	c.Assert(winner, qt.IsNotNil)
	got, err := f.store.GetAccommodation(context.Background(), domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.IsNil)
	c.Assert(*got.OwnerID, qt.Equals, winner.ID)
}

func TestLocalizationNeedsExistingParent(t *testing.T) {
	c, f := withT(t)
	_, err := f.admin.Create(f.as(&f.root), listing("a1", 0))
	c.Assert(err, qt.IsNil)

	_, err = f.admin.SaveLocalization(f.as(&f.root), domain.Localization{PropertyID: "a1", Feed: 1, Language: "en"})
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)
	_, err = f.writes.SaveLocalization(context.Background(), domain.Localization{PropertyID: "nope", Feed: 0, Language: "en"})
	c.Assert(err, qt.ErrorIs, domain.ErrMissingReference)

	l, err := f.admin.SaveLocalization(f.as(&f.root), domain.Localization{PropertyID: "a1", Feed: 0, Language: "fr", Description: "Bonjour"})
	c.Assert(err, qt.IsNil)
	c.Assert(l.ID > 0, qt.IsTrue)

	ls, err := f.admin.ListLocalizations(f.as(&f.root), domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.IsNil)
	c.Assert(ls, qt.HasLen, 1)
}

func TestWritesEvictListingCache(t *testing.T) {
	c, f := withT(t)
	a := listing("a1", 0)
	a.Published = true
	_, err := f.writes.Save(context.Background(), a)
	c.Assert(err, qt.IsNil)

	q := app.NewQueryService(f.store, f.cache, 0)
	_, err = q.GetListing(context.Background(), a.Key(), "en")
	c.Assert(err, qt.IsNil)
	c.Assert(f.cache.has("listing:0:a1"), qt.IsTrue)

	_, err = f.writes.SaveLocalization(context.Background(), domain.Localization{PropertyID: "a1", Feed: 0, Language: "en"})
	c.Assert(err, qt.IsNil)
	c.Assert(f.cache.has("listing:0:a1"), qt.IsFalse)
}
