// Package feed pulls listing payloads from a remote JSON feed.
package feed

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"geolisting/internal/adapters/observability"
	"geolisting/internal/domain"
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("feed base URL is required")
	}
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API (modern endpoints first, then legacy variants) ----

// ListListingIDs returns one page of listing ids. Pages start at 1.
func (c *Client) ListListingIDs(ctx context.Context, page int) ([]string, bool, error) {
	var out map[string]any
	err := c.getFirst(ctx, "list", []string{
		fmt.Sprintf("%s/listings?page=%d", c.base, page),
		fmt.Sprintf("%s/listing?page=%d", c.base, page),
	}, &out)
	if err != nil {
		return nil, false, err
	}
	return pageIDs(out)
}

func (c *Client) GetListing(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	return out, c.getFirst(ctx, "listing", []string{
		fmt.Sprintf("%s/listings/%s", c.base, url.PathEscape(id)),
		fmt.Sprintf("%s/listing/%s", c.base, url.PathEscape(id)),
	}, &out)
}

func (c *Client) GetDescription(ctx context.Context, id, lang string) (map[string]any, error) {
	var out map[string]any
	return out, c.getFirst(ctx, "description", []string{
		fmt.Sprintf("%s/listings/%s/descriptions/%s", c.base, url.PathEscape(id), url.PathEscape(lang)),
		fmt.Sprintf("%s/listings/%s/lang/%s", c.base, url.PathEscape(id), url.PathEscape(lang)),
	}, &out)
}

// pageIDs accepts {"ids": [...]} or {"data"|"items": [{"id": ...}]} with a
// "has_more" or "next" marker.
func pageIDs(m map[string]any) ([]string, bool, error) {
	var ids []string
	if raw, ok := m["ids"].([]any); ok {
		for _, v := range raw {
			if s := idString(v); s != "" {
				ids = append(ids, s)
			}
		}
	} else {
		for _, k := range []string{"data", "items"} {
			raw, ok := m[k].([]any)
			if !ok {
				continue
			}
			for _, it := range raw {
				if obj, ok := it.(map[string]any); ok {
					if s := idString(obj["id"]); s != "" {
						ids = append(ids, s)
					}
				}
			}
			break
		}
	}
	more, _ := m["has_more"].(bool)
	switch v := m["next"].(type) {
	case bool:
		more = more || v
	case string:
		more = more || v != ""
	case float64:
		more = more || v > 0
	}
	if ids == nil && m["ids"] == nil && m["data"] == nil && m["items"] == nil {
		return nil, false, errors.New("feed: page payload has no ids")
	}
	return ids, more, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}

// ---- Internals ----

var (
	ErrNotFound     = fmt.Errorf("feed: %w", domain.ErrNotFound)
	ErrUnauthorized = fmt.Errorf("feed: unauthorized: %w", domain.ErrPermissionDenied)
	ErrForbidden    = fmt.Errorf("feed: forbidden: %w", domain.ErrPermissionDenied)
)

func (c *Client) getFirst(ctx context.Context, endpoint string, urls []string, out any) error {
	var last error
	for _, u := range urls {
		if err := c.get(ctx, endpoint, u, out); err != nil {
			if errors.Is(err, ErrNotFound) {
				last = err
				continue // try next pattern
			}
			return err
		}
		return nil
	}
	if last != nil {
		return last
	}
	return errors.New("no candidate URL succeeded")
}

// get performs a GET with client-side rate limiting, retries, and JSON decode into out.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, endpoint, url string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-API-Key", c.key)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "geolisting-ingestor/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveFeed(endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveFeed(endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
