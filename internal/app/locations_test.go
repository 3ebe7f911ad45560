package app_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"geolisting/internal/app"
	"geolisting/internal/domain"
)

func TestAncestorsEndAtRoot(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 2)

	chain, err := svc.Ancestors(context.Background(), "sf")
	c.Assert(err, qt.IsNil)
	c.Assert(chain, qt.HasLen, 2)
	c.Assert(chain[0].ID, qt.Equals, "ca")
	c.Assert(chain[1].ID, qt.Equals, "us")
	c.Assert(chain[1].ParentID, qt.IsNil)

	again, err := svc.Ancestors(context.Background(), "sf")
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.DeepEquals, chain)

	root, err := svc.Ancestors(context.Background(), "us")
	c.Assert(err, qt.IsNil)
	c.Assert(root, qt.HasLen, 0)
}

func TestSaveRejectsCycles(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 2)
	ctx := context.Background()

	us, err := svc.Get(ctx, "us")
	c.Assert(err, qt.IsNil)
	us.ParentID = ptr("sf")
	c.Assert(svc.Save(ctx, us), qt.ErrorIs, domain.ErrCycle)

	us.ParentID = ptr("us")
	c.Assert(svc.Save(ctx, us), qt.ErrorIs, domain.ErrCycle)

	us.ParentID = ptr("nowhere")
	c.Assert(svc.Save(ctx, us), qt.ErrorIs, domain.ErrMissingReference)
}

func TestSaveEvictsCachedLocation(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 2)
	ctx := context.Background()

	ca, err := svc.Get(ctx, "ca")
	c.Assert(err, qt.IsNil)
	c.Assert(f.cache.has("location:ca"), qt.IsTrue)

	ca.Title = "Golden State"
	c.Assert(svc.Save(ctx, ca), qt.IsNil)
	c.Assert(f.cache.has("location:ca"), qt.IsFalse)

	got, err := svc.Get(ctx, "ca")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Title, qt.Equals, "Golden State")
}

func TestImportOrdersParentsFirst(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 3)
	ctx := context.Background()
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := []domain.Location{
		{ID: "lyon", Title: "Lyon", Type: domain.LocationCity, CountryCode: "FR", ParentID: ptr("ara"), City: ptr("Lyon")},
		{ID: "ara", Title: "Auvergne-Rhone-Alpes", Type: domain.LocationState, CountryCode: "FR", ParentID: ptr("fr")},
		{ID: "fr", Title: "France", Type: domain.LocationCountry, CountryCode: "FR", CreatedAt: created},
		{ID: "bad", Title: "", Type: domain.LocationState, CountryCode: "FR", ParentID: ptr("fr")},
		{ID: "orphan", Title: "Orphan", Type: domain.LocationCity, CountryCode: "FR", ParentID: ptr("bad")},
		{ID: "nv", Title: "Nevada", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("us")},
		{ID: "loop1", Title: "Loop", Type: domain.LocationState, CountryCode: "FR", ParentID: ptr("loop2")},
		{ID: "loop2", Title: "Loop", Type: domain.LocationState, CountryCode: "FR", ParentID: ptr("loop1")},
	}

	rep, err := svc.Import(ctx, rows)
	c.Assert(err, qt.IsNil)
	c.Assert(rep.Imported, qt.Equals, 4)

	rejected := map[string]error{}
	for _, r := range rep.Rejected {
		rejected[r.ID] = r.Err
	}
	c.Assert(rejected, qt.HasLen, 4)
	var ve *domain.ValidationError
	c.Assert(rejected["bad"], qt.ErrorAs, &ve)
	c.Assert(rejected["orphan"], qt.ErrorIs, domain.ErrMissingReference)
	c.Assert(rejected["loop1"], qt.ErrorIs, domain.ErrCycle)
	c.Assert(rejected["loop2"], qt.ErrorIs, domain.ErrCycle)
	c.Assert(rep.Rejected[0].Row, qt.Equals, 4)

	chain, err := svc.Ancestors(ctx, "lyon")
	c.Assert(err, qt.IsNil)
	c.Assert(chain, qt.HasLen, 2)

	fr, err := f.store.GetLocation(ctx, "fr")
	c.Assert(err, qt.IsNil)
	c.Assert(fr.CreatedAt.Equal(created), qt.IsTrue)
}

func TestDeleteCascadesAndEvicts(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 2)
	ctx := context.Background()

	_, err := f.writes.Save(ctx, listing("a1", 0))
	c.Assert(err, qt.IsNil)
	_, err = svc.Get(ctx, "sf")
	c.Assert(err, qt.IsNil)

	c.Assert(svc.Delete(ctx, "us"), qt.IsNil)
	c.Assert(f.cache.has("location:sf"), qt.IsFalse)

	_, err = svc.Get(ctx, "sf")
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)
	_, err = f.store.GetAccommodation(ctx, domain.AccommodationKey{ID: "a1", Feed: 0})
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)

	c.Assert(svc.Delete(ctx, "us"), qt.ErrorIs, domain.ErrNotFound)
}

func TestImportCannotLoopThroughStoredTree(t *testing.T) {
	c, f := withT(t)
	svc := app.NewLocationService(f.store, f.cache, time.Minute, 2)
	ctx := context.Background()

	// us would hang below x, and x below sf, which already sits under us
	rep, err := svc.Import(ctx, []domain.Location{
		{ID: "us", Title: "United States", Type: domain.LocationCountry, CountryCode: "US", ParentID: ptr("x")},
		{ID: "x", Title: "X", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("sf")},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(rep.Imported, qt.Equals, 1)
	c.Assert(rep.Rejected, qt.HasLen, 1)
	c.Assert(rep.Rejected[0].ID, qt.Equals, "us")
	c.Assert(rep.Rejected[0].Err, qt.ErrorIs, domain.ErrCycle)

	chain, err := svc.Ancestors(ctx, "sf")
	c.Assert(err, qt.IsNil)
	c.Assert(chain, qt.HasLen, 2)
	c.Assert(chain[1].ID, qt.Equals, "us")
	c.Assert(chain[1].ParentID, qt.IsNil)

	chain, err = svc.Ancestors(ctx, "x")
	c.Assert(err, qt.IsNil)
	c.Assert(chain, qt.HasLen, 3)
}
