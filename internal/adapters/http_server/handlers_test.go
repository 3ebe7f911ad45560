package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	httpserver "geolisting/internal/adapters/http_server"
	"geolisting/internal/app"
	"geolisting/internal/domain"
	"geolisting/internal/storage/memory"
)

const password = "password1"

type testEnv struct {
	c     *qt.C
	store *memory.Store
	h     http.Handler
}

func ptr[T any](v T) *T { return &v }

func newEnv(t *testing.T) *testEnv {
	c := qt.New(t)
	ctx := context.Background()
	store := memory.New()
	accounts := app.NewAccountService(store, bcrypt.MinCost)
	writes := app.NewAccommodationStore(store, nil)
	h := &httpserver.Handlers{
		Accounts:   accounts,
		Admin:      app.NewAccommodationAdmin(writes, store),
		Locations:  app.NewLocationService(store, nil, time.Minute, 2),
		Sitemap:    app.NewSitemapService(store, nil, time.Minute),
		Queries:    app.NewQueryService(store, nil, time.Minute),
		Partitions: store,
		SignUps:    rate.NewLimiter(rate.Every(time.Hour), 1),
	}
	s := httpserver.New(accounts)
	s.MountHandlers(h)

	_, err := accounts.CreateSuperuser(ctx, domain.SignUp{Username: "root", Email: "root@example.com", Password: password})
	c.Assert(err, qt.IsNil)
	for _, name := range []string{"owner", "other"} {
		_, err := accounts.SignUp(ctx, domain.SignUp{Username: name, Email: name + "@example.com", Password: password})
		c.Assert(err, qt.IsNil)
	}
	for _, l := range []domain.Location{
		{ID: "us", Title: "United States", Type: domain.LocationCountry, CountryCode: "US"},
		{ID: "ca", Title: "California", Type: domain.LocationState, CountryCode: "US", ParentID: ptr("us"), StateAbbr: ptr("CA")},
		{ID: "sf", Title: "San Francisco", Type: domain.LocationCity, CountryCode: "US", ParentID: ptr("ca"), StateAbbr: ptr("CA"), City: ptr("San Francisco")},
	} {
		c.Assert(store.UpsertLocation(ctx, l), qt.IsNil)
	}
	return &testEnv{c: c, store: store, h: s.Mux()}
}

// do sends a request as user; an empty user is anonymous.
func (e *testEnv) do(method, path, user, body string, hdr ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](c *qt.C, rec *httptest.ResponseRecorder) T {
	var v T
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &v), qt.IsNil, qt.Commentf("body: %s", rec.Body.String()))
	return v
}

const loftJSON = `{"id":"a1","feed":0,"title":"Loft","country_code":"US","bedroom_count":2,
"review_score":8.5,"usd_rate":120,"center":{"lon":-122.4,"lat":37.77},"location_id":"sf","published":true}`

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/healthz", "", "")
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK)
	e.c.Assert(rec.Body.String(), qt.Equals, "ok")
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/admin/accommodations", "", "")
	e.c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
	e.c.Assert(rec.Header().Get("WWW-Authenticate"), qt.Contains, "Basic")

	req := httptest.NewRequest(http.MethodGet, "/sitemap.json", nil)
	req.SetBasicAuth("owner", "wrong-password")
	bad := httptest.NewRecorder()
	e.h.ServeHTTP(bad, req)
	e.c.Assert(bad.Code, qt.Equals, http.StatusUnauthorized)
	e.c.Assert(bad.Header().Get("Content-Type"), qt.Equals, "application/problem+json")

	// public routes stay open to anonymous requesters
	e.c.Assert(e.do(http.MethodGet, "/sitemap.json", "", "").Code, qt.Equals, http.StatusOK)
}

func TestOwnerCreatesAndIsStamped(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/admin/accommodations", "owner", loftJSON)
	e.c.Assert(rec.Code, qt.Equals, http.StatusCreated, qt.Commentf("body: %s", rec.Body.String()))
	a := decode[domain.Accommodation](e.c, rec)
	owner, err := e.store.GetUserByUsername(context.Background(), "owner")
	e.c.Assert(err, qt.IsNil)
	e.c.Assert(a.OwnerID, qt.IsNotNil)
	e.c.Assert(*a.OwnerID, qt.Equals, owner.ID)
	e.c.Assert(a.ReviewScore, qt.Equals, domain.Score(85))

	// duplicate create
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "owner", loftJSON).Code, qt.Equals, http.StatusConflict)

	mine := decode[[]domain.Accommodation](e.c, e.do(http.MethodGet, "/admin/accommodations", "owner", ""))
	e.c.Assert(mine, qt.HasLen, 1)
	theirs := decode[[]domain.Accommodation](e.c, e.do(http.MethodGet, "/admin/accommodations", "other", ""))
	e.c.Assert(theirs, qt.HasLen, 0)
	all := decode[[]domain.Accommodation](e.c, e.do(http.MethodGet, "/admin/accommodations?q=lof", "root", ""))
	e.c.Assert(all, qt.HasLen, 1)
}

func TestOtherOwnerIsRefused(t *testing.T) {
	e := newEnv(t)
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "owner", loftJSON).Code, qt.Equals, http.StatusCreated)

	e.c.Assert(e.do(http.MethodGet, "/admin/accommodations/0/a1", "other", "").Code, qt.Equals, http.StatusNotFound)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1", "other", loftJSON).Code, qt.Equals, http.StatusForbidden)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1/localizations/fr", "other", `{"description":"x"}`).Code, qt.Equals, http.StatusForbidden)

	// owners may change but never delete
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1", "owner", loftJSON).Code, qt.Equals, http.StatusOK)
	e.c.Assert(e.do(http.MethodDelete, "/admin/accommodations/0/a1", "owner", "").Code, qt.Equals, http.StatusForbidden)
	e.c.Assert(e.do(http.MethodDelete, "/admin/accommodations/0/a1", "root", "").Code, qt.Equals, http.StatusNoContent)
	e.c.Assert(e.do(http.MethodGet, "/admin/accommodations/0/a1", "root", "").Code, qt.Equals, http.StatusNotFound)
}

func TestWriteErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)

	unknownFeed := strings.Replace(loftJSON, `"feed":0`, `"feed":9`, 1)
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", unknownFeed).Code, qt.Equals, http.StatusUnprocessableEntity)

	badLocation := strings.Replace(loftJSON, `"location_id":"sf"`, `"location_id":"nowhere"`, 1)
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", badLocation).Code, qt.Equals, http.StatusUnprocessableEntity)

	rec := e.do(http.MethodPost, "/admin/accommodations", "root", `{"id":"a2","feed":0}`)
	e.c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	p := decode[map[string]any](e.c, rec)
	e.c.Assert(p["fields"], qt.Not(qt.IsNil))

	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", `{`).Code, qt.Equals, http.StatusBadRequest)
	e.c.Assert(e.do(http.MethodGet, "/admin/accommodations/x/a1", "root", "").Code, qt.Equals, http.StatusBadRequest)

	// localization for a parent that is not in that feed
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", loftJSON).Code, qt.Equals, http.StatusCreated)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/1/a1/localizations/en", "root", `{"description":"x"}`).Code, qt.Equals, http.StatusUnprocessableEntity)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1/localizations/es", "root", `{"description":"x"}`).Code, qt.Equals, http.StatusUnprocessableEntity)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1/localizations/en", "root", `{"description":"Hello"}`).Code, qt.Equals, http.StatusOK)
	ls := decode[[]domain.Localization](e.c, e.do(http.MethodGet, "/admin/accommodations/0/a1/localizations", "root", ""))
	e.c.Assert(ls, qt.HasLen, 1)
	e.c.Assert(ls[0].Description, qt.Equals, "Hello")
}

func TestSignUp(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/v1/signup", "", `{"username":"new","email":"new@example.com","password":"password1"}`)
	e.c.Assert(rec.Code, qt.Equals, http.StatusCreated, qt.Commentf("body: %s", rec.Body.String()))
	u := decode[domain.User](e.c, rec)
	e.c.Assert(u.Roles, qt.DeepEquals, []string{domain.PropertyOwnersRole})
	e.c.Assert(rec.Body.String(), qt.Not(qt.Contains), "password")

	// the limiter allows one sign-up per hour
	rec = e.do(http.MethodPost, "/v1/signup", "", `{"username":"next","email":"next@example.com","password":"password1"}`)
	e.c.Assert(rec.Code, qt.Equals, http.StatusTooManyRequests)
	e.c.Assert(rec.Header().Get("Retry-After"), qt.Equals, "1")
}

func TestSignUpValidation(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/v1/signup", "", `{"username":"x","email":"nope","password":"short"}`)
	e.c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	p := decode[map[string]any](e.c, rec)
	fields := p["fields"].(map[string]any)
	_, hasEmail := fields["email"]
	_, hasPassword := fields["password"]
	e.c.Assert(hasEmail, qt.IsTrue)
	e.c.Assert(hasPassword, qt.IsTrue)
}

func TestPublicListing(t *testing.T) {
	e := newEnv(t)
	draft := strings.Replace(loftJSON, `"published":true`, `"published":false`, 1)
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", draft).Code, qt.Equals, http.StatusCreated)
	e.c.Assert(e.do(http.MethodGet, "/v1/listings/0/a1", "", "").Code, qt.Equals, http.StatusNotFound)

	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1", "root", loftJSON).Code, qt.Equals, http.StatusOK)
	e.c.Assert(e.do(http.MethodPut, "/admin/accommodations/0/a1/localizations/en", "root", `{"description":"Hello"}`).Code, qt.Equals, http.StatusOK)

	rec := e.do(http.MethodGet, "/v1/listings/0/a1", "", "", "Accept-Language", "fr-CA,fr;q=0.9")
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK)
	e.c.Assert(rec.Header().Get("Content-Language"), qt.Equals, "en")
	v := decode[domain.ListingView](e.c, rec)
	e.c.Assert(*v.Description, qt.Equals, "Hello")

	etag := rec.Header().Get("ETag")
	e.c.Assert(etag, qt.Not(qt.Equals), "")
	again := e.do(http.MethodGet, "/v1/listings/0/a1", "", "", "Accept-Language", "fr-CA,fr;q=0.9", "If-None-Match", etag)
	e.c.Assert(again.Code, qt.Equals, http.StatusNotModified)
}

func TestLocationRead(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/v1/locations/sf?ancestors=1", "", "")
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var v struct {
		ID        string            `json:"id"`
		Label     string            `json:"label"`
		Ancestors []domain.Location `json:"ancestors"`
	}
	e.c.Assert(json.Unmarshal(rec.Body.Bytes(), &v), qt.IsNil)
	e.c.Assert(v.ID, qt.Equals, "sf")
	e.c.Assert(v.Label, qt.Equals, "San Francisco, CA, US")
	e.c.Assert(v.Ancestors, qt.HasLen, 2)
	e.c.Assert(v.Ancestors[0].ID, qt.Equals, "ca")
	e.c.Assert(v.Ancestors[1].ID, qt.Equals, "us")

	kids := decode[[]domain.Location](e.c, e.do(http.MethodGet, "/v1/locations/us/children", "", ""))
	e.c.Assert(kids, qt.HasLen, 1)
	e.c.Assert(e.do(http.MethodGet, "/v1/locations/nowhere", "", "").Code, qt.Equals, http.StatusNotFound)
}

func TestSitemapEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/sitemap.json", "", "")
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK)
	e.c.Assert(rec.Body.String(), qt.Equals, `[
    {
        "United States": "us",
        "locations": [
            {
                "California": "us/california"
            }
        ]
    }
]
`)
}

func TestLocationAdminIsSuperuserOnly(t *testing.T) {
	e := newEnv(t)
	body := `{"title":"Nevada","location_type":"state","country_code":"US","parent_id":"us","center":{"lon":-116.4,"lat":38.8}}`
	e.c.Assert(e.do(http.MethodPut, "/admin/locations/nv", "owner", body).Code, qt.Equals, http.StatusForbidden)
	rec := e.do(http.MethodPut, "/admin/locations/nv", "root", body)
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))

	cyclic := `{"title":"United States","location_type":"country","country_code":"US","parent_id":"sf"}`
	e.c.Assert(e.do(http.MethodPut, "/admin/locations/us", "root", cyclic).Code, qt.Equals, http.StatusUnprocessableEntity)

	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", loftJSON).Code, qt.Equals, http.StatusCreated)
	e.c.Assert(e.do(http.MethodDelete, "/admin/locations/ca", "root", "").Code, qt.Equals, http.StatusNoContent)
	e.c.Assert(e.do(http.MethodGet, "/admin/accommodations/0/a1", "root", "").Code, qt.Equals, http.StatusNotFound)
	e.c.Assert(e.do(http.MethodGet, "/v1/locations/sf", "", "").Code, qt.Equals, http.StatusNotFound)
}

func TestImportLocations(t *testing.T) {
	e := newEnv(t)
	csv := "id,title,center,parent_id,location_type,country_code,state_abbr,city,created_at,updated_at\n" +
		"tx,Texas,POINT(-99.9 31.9),us,state,US,TX,,,\n" +
		"au,Austin,POINT(-97.7 30.3),tx,city,US,TX,Austin,,\n" +
		"zz,Nowhere,POINT(0 0),missing,state,US,,,,\n"
	e.c.Assert(e.do(http.MethodPost, "/admin/locations/import", "owner", csv).Code, qt.Equals, http.StatusForbidden)

	rec := e.do(http.MethodPost, "/admin/locations/import", "root", csv, "Content-Type", "text/csv")
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	var rep struct {
		Imported int `json:"imported"`
		Rejected []struct {
			Row int    `json:"row"`
			ID  string `json:"id"`
		} `json:"rejected"`
	}
	e.c.Assert(json.Unmarshal(rec.Body.Bytes(), &rep), qt.IsNil)
	e.c.Assert(rep.Imported, qt.Equals, 2)
	e.c.Assert(rep.Rejected, qt.HasLen, 1)
	e.c.Assert(rep.Rejected[0].Row, qt.Equals, 4)
	e.c.Assert(rep.Rejected[0].ID, qt.Equals, "zz")

	e.c.Assert(e.do(http.MethodPost, "/admin/locations/import", "root", "id,title\n").Code, qt.Equals, http.StatusBadRequest)
}

func TestPartitions(t *testing.T) {
	e := newEnv(t)
	e.c.Assert(e.do(http.MethodGet, "/admin/partitions", "owner", "").Code, qt.Equals, http.StatusForbidden)

	p := decode[domain.Partitions](e.c, e.do(http.MethodGet, "/admin/partitions", "root", ""))
	e.c.Assert(p.Feeds, qt.DeepEquals, []domain.Feed{0, 1, 2})
	e.c.Assert(p.Languages, qt.DeepEquals, []string{"de", "en", "fr"})

	rec := e.do(http.MethodPost, "/admin/partitions", "root", `{"kind":"feed","value":"7"}`)
	e.c.Assert(rec.Code, qt.Equals, http.StatusOK)
	p = decode[domain.Partitions](e.c, rec)
	e.c.Assert(p.Feeds, qt.DeepEquals, []domain.Feed{0, 1, 2, 7})

	feed7 := strings.Replace(loftJSON, `"feed":0`, `"feed":7`, 1)
	e.c.Assert(e.do(http.MethodPost, "/admin/accommodations", "root", feed7).Code, qt.Equals, http.StatusCreated)

	e.c.Assert(e.do(http.MethodPost, "/admin/partitions", "root", `{"kind":"language","value":"EN"}`).Code, qt.Equals, http.StatusBadRequest)
	e.c.Assert(e.do(http.MethodPost, "/admin/partitions", "root", `{"kind":"region","value":"x"}`).Code, qt.Equals, http.StatusBadRequest)
}
