package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	server "geolisting/internal/adapters/http_server"
	"geolisting/internal/adapters/observability"
	redisad "geolisting/internal/adapters/redis"
	"geolisting/internal/app"
	"geolisting/internal/shared"
	"geolisting/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api")

	// db
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open store failed")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; serving uncached")
	}

	accounts := app.NewAccountService(store, cfg.BcryptCost)
	if _, err := accounts.BootstrapRoles(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap roles failed")
	}
	writes := app.NewAccommodationStore(store, cache)

	h := &server.Handlers{
		Accounts:   accounts,
		Admin:      app.NewAccommodationAdmin(writes, store),
		Locations:  app.NewLocationService(store, cache, cfg.CacheTTL, cfg.ImportWorkers),
		Sitemap:    app.NewSitemapService(store, cache, cfg.CacheTTL),
		Queries:    app.NewQueryService(store, cache, cfg.CacheTTL),
		Partitions: store,
	}
	if cfg.SignupRPS > 0 {
		h.SignUps = rate.NewLimiter(rate.Limit(cfg.SignupRPS), max(1, int(cfg.SignupRPS)))
	}

	// http
	srv := server.New(accounts)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(h)

	log.Info().Str("addr", cfg.HTTPAddr).Str("driver", cfg.DBDriver).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
