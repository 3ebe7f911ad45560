package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"geolisting/internal/adapters/feed"
	"geolisting/internal/adapters/observability"
	redisad "geolisting/internal/adapters/redis"
	"geolisting/internal/app"
	"geolisting/internal/domain"
	"geolisting/internal/shared"
	"geolisting/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "ingestor")
	observability.Serve(ctx, cfg.MetricsAddr, observability.InitRegistry())

	log.Info().
		Str("base", cfg.FeedBase).
		Int("feed", cfg.FeedID).
		Int("workers", cfg.Workers).
		Strs("languages", cfg.FeedLanguages).
		Msg("ingestor starting")

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store failed")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	log.Info().Msg("db ping ok")

	client, err := feed.New(cfg.FeedBase, cfg.FeedKey, cfg.FeedRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize feed client")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()

	writes := app.NewAccommodationStore(store, cache)
	ing := app.NewIngestionService(client, writes, store, domain.Feed(cfg.FeedID), cfg.FeedLanguages)

	stats, err := ing.Run(ctx, cfg.Workers)
	if err != nil {
		log.Error().Err(err).Int64("seen", stats.Seen).Int64("failed", stats.Failed).Msg("ingestion stopped early")
		return
	}
	log.Info().Int64("seen", stats.Seen).Int64("failed", stats.Failed).Msg("ingestion completed")
}
