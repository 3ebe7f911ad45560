package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "geolisting"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	FeedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "feed", Name: "requests_total", Help: "Listing feed calls; status 0 is a transport error."},
		[]string{"endpoint", "status"},
	)
	FeedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "feed", Name: "request_duration_seconds",
			Help:    "Listing feed call duration seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	AccommodationSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accommodation_saves_total", Help: "Accommodation saves by where the owner came from."},
		[]string{"owner_source"}, // explicit|context|none
	)
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "policy_decisions_total", Help: "Access policy decisions."},
		[]string{"operation", "decision"}, // decision: allow|deny|all|owned|none
	)
	IngestResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "ingest", Name: "listings_total", Help: "Ingested listings by outcome."},
		[]string{"feed", "outcome"}, // ok|miss|failed
	)
	ImportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "import", Name: "location_rows_total", Help: "Imported location rows by outcome."},
		[]string{"outcome"}, // imported|rejected
	)
)

// InitRegistry returns a registry holding every collector of this package.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency,
		FeedRequests, FeedLatency,
		CacheEvents,
		AccommodationSaves, PolicyDecisions,
		IngestResults, ImportRows,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes reg on addr until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveFeed(endpoint string, status int, dur time.Duration) {
	FeedRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	FeedLatency.WithLabelValues(endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) {
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveSave(ownerSource string) {
	AccommodationSaves.WithLabelValues(ownerSource).Inc()
}

func ObservePolicy(operation, decision string) {
	PolicyDecisions.WithLabelValues(operation, decision).Inc()
}

func ObserveIngest(feed int16, outcome string) {
	IngestResults.WithLabelValues(strconv.Itoa(int(feed)), outcome).Inc()
}

func ObserveImport(imported, rejected int) {
	ImportRows.WithLabelValues("imported").Add(float64(imported))
	ImportRows.WithLabelValues("rejected").Add(float64(rejected))
}
