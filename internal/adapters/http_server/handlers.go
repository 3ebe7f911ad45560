// internal/adapters/http_server/handlers.go
package httpserver

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"geolisting/internal/adapters/csvimport"
	"geolisting/internal/app"
	"geolisting/internal/domain"
)

// PartitionManager is the slice of a store the partition endpoints need.
type PartitionManager interface {
	Partitions(ctx context.Context) (domain.Partitions, error)
	AddFeedPartition(ctx context.Context, feed domain.Feed) error
	AddLanguagePartition(ctx context.Context, lang string) error
}

type Handlers struct {
	Accounts   *app.AccountService
	Admin      *app.AccommodationAdmin
	Locations  *app.LocationService
	Sitemap    *app.SitemapService
	Queries    *app.QueryService
	Partitions PartitionManager
	// SignUps throttles POST /v1/signup; nil means unlimited.
	SignUps *rate.Limiter
}

type problem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

const maxBody = 1 << 20

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Get("/sitemap.json", h.getSitemap)
	s.mux.Post("/v1/signup", h.signUp)
	s.mux.Get("/v1/locations/{id}", h.getLocation)
	s.mux.Get("/v1/locations/{id}/children", h.listChildren)
	s.mux.Get("/v1/listings/{feed}/{id}", h.getListing)

	s.mux.Route("/admin", func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/accommodations", h.listAccommodations)
		r.Post("/accommodations", h.createAccommodation)
		r.Get("/accommodations/{feed}/{id}", h.getAccommodation)
		r.Put("/accommodations/{feed}/{id}", h.updateAccommodation)
		r.Delete("/accommodations/{feed}/{id}", h.deleteAccommodation)
		r.Get("/accommodations/{feed}/{id}/localizations", h.listLocalizations)
		r.Put("/accommodations/{feed}/{id}/localizations/{lang}", h.putLocalization)

		r.Group(func(r chi.Router) {
			r.Use(RequireSuperuser)
			r.Put("/locations/{id}", h.putLocation)
			r.Delete("/locations/{id}", h.deleteLocation)
			r.Post("/locations/import", h.importLocations)
			r.Get("/partitions", h.getPartitions)
			r.Post("/partitions", h.addPartition)
		})
	})
}

// selectLang takes the primary subtag of the first Accept-Language entry.
func selectLang(al string) string {
	first, _, _ := strings.Cut(al, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	if s := strings.ToLower(first); domain.ValidLanguage(s) {
		return s
	}
	return app.FallbackLanguage
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemBody(w, problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func writeProblemBody(w http.ResponseWriter, p problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeProblemBody(w, problem{Type: "about:blank", Title: "Validation Failed", Status: http.StatusBadRequest, Fields: ve.Fields})
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		writeProblem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrDuplicate):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrMissingReference),
		errors.Is(err, domain.ErrNoPartition),
		errors.Is(err, domain.ErrCycle):
		writeProblem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		// Log but don't fail the whole response; return empty ETag and best-effort body.
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	return etagOf(body), body
}

func etagOf(body []byte) string {
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

// writeCacheable answers 304 when the client already holds this body.
func writeCacheable(w http.ResponseWriter, r *http.Request, etag string, body []byte) {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag) // include ETag on 304
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("write body failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return false
	}
	return true
}

func accommodationKey(w http.ResponseWriter, r *http.Request) (domain.AccommodationKey, bool) {
	feed, err := strconv.ParseInt(chi.URLParam(r, "feed"), 10, 16)
	if err != nil || feed < 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid feed", "feed must be a non-negative integer")
		return domain.AccommodationKey{}, false
	}
	return domain.AccommodationKey{ID: chi.URLParam(r, "id"), Feed: domain.Feed(feed)}, true
}

/********** public **********/

func (h *Handlers) getSitemap(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Sitemap.Document(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := app.EncodeSitemap(&buf, doc); err != nil {
		writeError(w, err)
		return
	}
	writeCacheable(w, r, etagOf(buf.Bytes()), buf.Bytes())
}

func (h *Handlers) signUp(w http.ResponseWriter, r *http.Request) {
	if h.SignUps != nil && !h.SignUps.Allow() {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "sign-up rate exceeded")
		return
	}
	var in domain.SignUp
	if !decodeJSON(w, r, &in) {
		return
	}
	u, err := h.Accounts.SignUp(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type locationView struct {
	domain.Location
	Label     string            `json:"label"`
	Ancestors []domain.Location `json:"ancestors,omitempty"`
}

func (h *Handlers) getLocation(w http.ResponseWriter, r *http.Request) {
	l, err := h.Locations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	view := locationView{Location: l, Label: l.String()}
	if v := r.URL.Query().Get("ancestors"); v == "1" || v == "true" {
		if view.Ancestors, err = h.Locations.Ancestors(r.Context(), l.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	etag, body := calcETagAndBody(view)
	writeCacheable(w, r, etag, body)
}

func (h *Handlers) listChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Locations.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	kids, err := h.Locations.Children(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if kids == nil {
		kids = []domain.Location{}
	}
	etag, body := calcETagAndBody(kids)
	writeCacheable(w, r, etag, body)
}

func (h *Handlers) getListing(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	lang := strings.ToLower(r.URL.Query().Get("lang"))
	if lang == "" {
		lang = selectLang(r.Header.Get("Accept-Language"))
	}
	resp, err := h.Queries.GetListing(r.Context(), key, lang)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Language", resp.Language)
	etag, body := calcETagAndBody(resp)
	writeCacheable(w, r, etag, body)
}

/********** admin: accommodations **********/

func (h *Handlers) listAccommodations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f domain.AccommodationFilter
	if v := q.Get("feed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid feed", "feed must be an integer")
			return
		}
		feed := domain.Feed(n)
		f.Feed = &feed
	}
	if v := q.Get("published"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid published", "published must be a boolean")
			return
		}
		f.Published = &b
	}
	if v := q.Get("country_code"); v != "" {
		f.CountryCode = &v
	}
	if v := q.Get("q"); v != "" {
		f.Query = &v
	}
	f.Limit = 100
	if ls := q.Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		f.Limit = l
	}
	out, err := h.Admin.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.Accommodation{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) createAccommodation(w http.ResponseWriter, r *http.Request) {
	var a domain.Accommodation
	if !decodeJSON(w, r, &a) {
		return
	}
	out, err := h.Admin.Create(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handlers) getAccommodation(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	a, err := h.Admin.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) updateAccommodation(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	var a domain.Accommodation
	if !decodeJSON(w, r, &a) {
		return
	}
	a.ID, a.Feed = key.ID, key.Feed
	out, err := h.Admin.Update(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) deleteAccommodation(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	if err := h.Admin.Delete(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listLocalizations(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	out, err := h.Admin.ListLocalizations(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.Localization{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) putLocalization(w http.ResponseWriter, r *http.Request) {
	key, ok := accommodationKey(w, r)
	if !ok {
		return
	}
	var l domain.Localization
	if !decodeJSON(w, r, &l) {
		return
	}
	l.PropertyID, l.Feed, l.Language = key.ID, key.Feed, chi.URLParam(r, "lang")
	out, err := h.Admin.SaveLocalization(r.Context(), l)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

/********** admin: locations and partitions **********/

func (h *Handlers) putLocation(w http.ResponseWriter, r *http.Request) {
	var l domain.Location
	if !decodeJSON(w, r, &l) {
		return
	}
	l.ID = chi.URLParam(r, "id")
	if err := h.Locations.Save(r.Context(), l); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Locations.Get(r.Context(), l.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) deleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.Locations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rowErrorView struct {
	Row   int    `json:"row"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

type importView struct {
	Imported int            `json:"imported"`
	Rejected []rowErrorView `json:"rejected"`
}

// importLocations takes a CSV body; rejected rows carry their CSV line.
func (h *Handlers) importLocations(w http.ResponseWriter, r *http.Request) {
	rep, err := csvimport.Load(r.Context(), http.MaxBytesReader(w, r.Body, 32*maxBody), h.Locations)
	if err != nil {
		if r.Context().Err() != nil {
			writeError(w, err)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Malformed CSV", err.Error())
		return
	}
	view := importView{Imported: rep.Imported, Rejected: []rowErrorView{}}
	for _, e := range rep.Rejected {
		view.Rejected = append(view.Rejected, rowErrorView{Row: e.Row, ID: e.ID, Error: e.Err.Error()})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) getPartitions(w http.ResponseWriter, r *http.Request) {
	p, err := h.Partitions.Partitions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type partitionRequest struct {
	Kind  string `json:"kind"` // feed|language
	Value string `json:"value"`
}

func (h *Handlers) addPartition(w http.ResponseWriter, r *http.Request) {
	var in partitionRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	var err error
	switch in.Kind {
	case "feed":
		n, perr := strconv.ParseInt(in.Value, 10, 16)
		if perr != nil || n < 0 {
			writeError(w, &domain.ValidationError{Fields: map[string]string{"value": "must be a non-negative integer"}})
			return
		}
		err = h.Partitions.AddFeedPartition(r.Context(), domain.Feed(n))
	case "language":
		if !domain.ValidLanguage(in.Value) {
			writeError(w, &domain.ValidationError{Fields: map[string]string{"value": "must be two lowercase letters"}})
			return
		}
		err = h.Partitions.AddLanguagePartition(r.Context(), in.Value)
	default:
		writeError(w, &domain.ValidationError{Fields: map[string]string{"kind": "must be feed or language"}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.getPartitions(w, r)
}
