package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"geolisting/internal/domain"
)

const SitemapCacheKey = "sitemap:v1"

// SitemapLink maps one child location title to its path.
type SitemapLink struct {
	Title string
	Path  string
}

func (l SitemapLink) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	writeKV(&b, l.Title, l.Path)
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (l *SitemapLink) UnmarshalJSON(raw []byte) error {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	for k, v := range m {
		l.Title, l.Path = k, v
	}
	return nil
}

// SitemapCountry is one country entry: the title mapped to the lowercase
// country code, followed by "locations".
type SitemapCountry struct {
	Title     string
	Code      string
	Locations []SitemapLink
}

func (c SitemapCountry) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	writeKV(&b, c.Title, c.Code)
	b.WriteString(`,"locations":`)
	locs := c.Locations
	if locs == nil {
		locs = []SitemapLink{}
	}
	raw, err := json.Marshal(locs)
	if err != nil {
		return nil, err
	}
	b.Write(raw)
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (c *SitemapCountry) UnmarshalJSON(raw []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	for k, v := range m {
		if k == "locations" {
			if err := json.Unmarshal(v, &c.Locations); err != nil {
				return err
			}
			continue
		}
		c.Title = k
		if err := json.Unmarshal(v, &c.Code); err != nil {
			return err
		}
	}
	return nil
}

func writeKV(b *bytes.Buffer, k, v string) {
	kb, _ := marshalNoEscape(k)
	vb, _ := marshalNoEscape(v)
	b.Write(kb)
	b.WriteByte(':')
	b.Write(vb)
}

func marshalNoEscape(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

// Slug is the literal path segment rule: lowercase, spaces become hyphens.
// Nothing else is normalized.
func Slug(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "-")
}

type SitemapService struct {
	repo     domain.LocationRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewSitemapService(r domain.LocationRepository, c domain.Cache, ttl time.Duration) *SitemapService {
	return &SitemapService{repo: r, cache: c, cacheTTL: ttl}
}

// Build lists countries by title, each with its direct non-city children by
// title.
func (s *SitemapService) Build(ctx context.Context) ([]SitemapCountry, error) {
	country := domain.LocationCountry
	countries, err := s.repo.ListLocations(ctx, domain.LocationQuery{Type: &country})
	if err != nil {
		return nil, err
	}
	out := make([]SitemapCountry, 0, len(countries))
	for _, c := range countries {
		code := strings.ToLower(c.CountryCode)
		entry := SitemapCountry{Title: c.Title, Code: code, Locations: []SitemapLink{}}
		id := c.ID
		kids, err := s.repo.ListLocations(ctx, domain.LocationQuery{ParentID: &id})
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			if k.Type == domain.LocationCity {
				continue
			}
			entry.Locations = append(entry.Locations, SitemapLink{Title: k.Title, Path: code + "/" + Slug(k.Title)})
		}
		out = append(out, entry)
	}
	return out, nil
}

// Document returns the sitemap, served from cache when present.
func (s *SitemapService) Document(ctx context.Context) ([]SitemapCountry, error) {
	var doc []SitemapCountry
	if s.cache != nil {
		if ok, err := s.cache.Get(ctx, SitemapCacheKey, &doc); ok && err == nil {
			return doc, nil
		}
	}
	doc, err := s.Build(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, SitemapCacheKey, doc, int(s.cacheTTL.Seconds()))
	}
	return doc, nil
}

// Write renders the document indented by four spaces.
func (s *SitemapService) Write(ctx context.Context, w io.Writer) error {
	doc, err := s.Build(ctx)
	if err != nil {
		return err
	}
	return EncodeSitemap(w, doc)
}

func EncodeSitemap(w io.Writer, doc []SitemapCountry) error {
	if doc == nil {
		doc = []SitemapCountry{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}
