package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"golang.org/x/crypto/bcrypt"

	"geolisting/internal/app"
	"geolisting/internal/domain"
	"geolisting/internal/ownership"
	"geolisting/internal/storage/memory"
)

// jsonCache round-trips values through JSON like the Redis adapter does.
type jsonCache struct {
	mu    sync.Mutex
	store map[string][]byte
	dels  []string
}

func newJSONCache() *jsonCache { return &jsonCache{store: map[string][]byte{}} }

func (c *jsonCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *jsonCache) Set(_ context.Context, key string, v any, _ int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = b
	return nil
}

func (c *jsonCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

func (c *jsonCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.store[key]
	return ok
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store    *memory.Store
	cache    *jsonCache
	accounts *app.AccountService
	writes   *app.AccommodationStore
	admin    *app.AccommodationAdmin

	root, owner, other, stranger domain.User
}

func newFixture(c *qt.C) *fixture {
	ctx := context.Background()
	f := &fixture{store: memory.New(), cache: newJSONCache()}
	f.accounts = app.NewAccountService(f.store, bcrypt.MinCost)
	f.writes = app.NewAccommodationStore(f.store, f.cache)
	f.admin = app.NewAccommodationAdmin(f.writes, f.store)

	var err error
	f.root, err = f.accounts.CreateSuperuser(ctx, domain.SignUp{Username: "root", Email: "root@example.com", Password: "password1"})
	c.Assert(err, qt.IsNil)
	f.owner, err = f.accounts.SignUp(ctx, domain.SignUp{Username: "owner", Email: "owner@example.com", Password: "password1"})
	c.Assert(err, qt.IsNil)
	f.other, err = f.accounts.SignUp(ctx, domain.SignUp{Username: "other", Email: "other@example.com", Password: "password1"})
	c.Assert(err, qt.IsNil)
	f.stranger, err = f.store.CreateUser(ctx, domain.User{Username: "stranger", Email: "s@example.com"})
	c.Assert(err, qt.IsNil)

	for _, l := range []domain.Location{
		{ID: "us", Title: "United States", Type: domain.LocationCountry, CountryCode: "US"},
		{ID: "ca", Title: "California", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("us")},
		{ID: "sf", Title: "San Francisco", Type: domain.LocationCity, CountryCode: "US", ParentID: ptr("ca")},
	} {
		c.Assert(f.store.UpsertLocation(ctx, l), qt.IsNil)
	}
	return f
}

func (f *fixture) as(u *domain.User) context.Context {
	return ownership.SetCurrentUser(context.Background(), u)
}

func listing(id string, feed domain.Feed) domain.Accommodation {
	return domain.Accommodation{
		ID:          id,
		Feed:        feed,
		Title:       "Listing " + id,
		CountryCode: "US",
		LocationID:  "sf",
		ReviewScore: 85,
		USDRate:     12000,
	}
}

func withT(t *testing.T) (*qt.C, *fixture) {
	c := qt.New(t)
	return c, newFixture(c)
}
