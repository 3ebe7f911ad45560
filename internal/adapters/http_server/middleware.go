package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"geolisting/internal/adapters/observability"
	"geolisting/internal/domain"
	"geolisting/internal/ownership"
)

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

// ---- status-recording ResponseWriter ----

type srw struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *srw) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *srw) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *srw) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// ---- Metrics middleware ----

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &srw{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		observability.ObserveHTTP(route, r.Method, sw.Status(), time.Since(start))
	})
}

// ---- Structured logging middleware ----

// actor is filled in by CurrentUser so the access log, which wraps it, can
// name the requester.
type actor struct{ name string }

type actorKey struct{}

func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &srw{ResponseWriter: w}
			who := &actor{name: "anonymous"}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), actorKey{}, who)))
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			l.Info().
				Str("route", route).
				Str("method", r.Method).
				Int("status", sw.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", remoteIP(r)).
				Str("ua", r.UserAgent()).
				Str("user", who.name).
				Msg("http_request")
		})
	}
}

// Picks first X-Forwarded-For IP, else X-Real-IP, else RemoteAddr host.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- Requester binding ----

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (domain.User, error)
}

const basicRealm = `Basic realm="geolisting", charset="UTF-8"`

// CurrentUser binds the requester to the request context for everything
// downstream. No credentials binds an anonymous requester; credentials that
// do not check out end the request with 401.
func CurrentUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				next.ServeHTTP(w, r.WithContext(ownership.SetCurrentUser(r.Context(), nil)))
				return
			}
			u, err := auth.Authenticate(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidCredentials) {
					w.Header().Set("WWW-Authenticate", basicRealm)
				} else {
					log.Error().Err(err).Msg("authenticate failed")
				}
				writeError(w, err)
				return
			}
			if who, ok := r.Context().Value(actorKey{}).(*actor); ok {
				who.name = u.Username
			}
			next.ServeHTTP(w, r.WithContext(ownership.SetCurrentUser(r.Context(), &u)))
		})
	}
}

// RequireUser turns anonymous requests away with a Basic challenge.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ownership.CurrentUser(r.Context()) == nil {
			w.Header().Set("WWW-Authenticate", basicRealm)
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := ownership.CurrentUser(r.Context()); u == nil || !u.IsSuperuser {
			writeProblem(w, http.StatusForbidden, "Forbidden", "superuser only")
			return
		}
		next.ServeHTTP(w, r)
	})
}
