package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"geolisting/internal/adapters/observability"
	"geolisting/internal/domain"
	"geolisting/internal/ownership"
)

// IngestionService copies one feed's listings into the accommodation store.
// Writes run with no acting user, so ingested rows are ownerless.
type IngestionService struct {
	client domain.FeedClient
	store  *AccommodationStore
	misses domain.IngestLog
	feed   domain.Feed
	langs  []string
}

func NewIngestionService(c domain.FeedClient, store *AccommodationStore, misses domain.IngestLog, feed domain.Feed, langs []string) *IngestionService {
	return &IngestionService{client: c, store: store, misses: misses, feed: feed, langs: langs}
}

// missStatus classifies feed errors that are recorded rather than returned.
func missStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return 404, "not found", true
	case errors.Is(err, domain.ErrPermissionDenied):
		return 403, "inactive", true
	}
	return 0, "", false
}

// storeMiss classifies storage rejections of a single row.
func storeMiss(err error) (string, bool) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return "invalid", true
	case errors.Is(err, domain.ErrMissingReference):
		return "missing reference", true
	case errors.Is(err, domain.ErrNoPartition):
		return "no partition", true
	}
	return "", false
}

func (s *IngestionService) logMiss(ctx context.Context, id string, status int, reason string) {
	if err := s.misses.LogMiss(ctx, s.feed, id, status, reason); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("log miss failed")
	}
}

// IngestListing copies one listing and its descriptions. Feed and storage
// rejections of the listing are recorded as misses, not returned.
func (s *IngestionService) IngestListing(ctx context.Context, id string) error {
	missed, err := s.ingest(ownership.SetCurrentUser(ctx, nil), id)
	switch {
	case err != nil:
		observability.ObserveIngest(int16(s.feed), "failed")
	case missed:
		observability.ObserveIngest(int16(s.feed), "miss")
	default:
		observability.ObserveIngest(int16(s.feed), "ok")
	}
	return err
}

func (s *IngestionService) ingest(ctx context.Context, id string) (bool, error) {
	// 1) Listing first; localizations reference it.
	p, err := s.client.GetListing(ctx, id)
	if err != nil {
		if status, reason, ok := missStatus(err); ok {
			s.logMiss(ctx, id, status, reason)
			return true, nil
		}
		return false, err
	}
	a := mapListing(s.feed, id, p)
	if _, err := s.store.Save(ctx, a); err != nil {
		if reason, ok := storeMiss(err); ok {
			log.Warn().Err(err).Str("id", id).Msg("listing rejected")
			s.logMiss(ctx, id, 422, reason)
			return true, nil
		}
		return false, err
	}

	// 2) Descriptions per language; misses are recorded and skipped.
	for _, lang := range s.langs {
		d, err := s.client.GetDescription(ctx, a.ID, lang)
		if err != nil {
			if status, _, ok := missStatus(err); ok {
				s.logMiss(ctx, id, status, "i18n:"+lang)
				continue
			}
			return false, err
		}
		if _, err := s.store.SaveLocalization(ctx, mapLocalization(a.Key(), lang, d)); err != nil {
			if reason, ok := storeMiss(err); ok {
				s.logMiss(ctx, id, 422, "i18n:"+lang+": "+reason)
				continue
			}
			return false, err
		}
	}
	return false, nil
}

type IngestStats struct {
	Seen   int64
	Failed int64
}

// Run walks every page of the feed and ingests listings with at most
// workers in flight.
func (s *IngestionService) Run(ctx context.Context, workers int) (IngestStats, error) {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var seen, failed atomic.Int64

	var runErr error
	for page := 1; ; page++ {
		ids, more, err := s.client.ListListingIDs(ctx, page)
		if err != nil {
			runErr = err
			break
		}
		for _, id := range ids {
			// acquire before launching the goroutine; release inside it
			if err := sem.Acquire(ctx, 1); err != nil {
				runErr = err
				break
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer sem.Release(1)
				seen.Add(1)
				if err := s.IngestListing(ctx, id); err != nil {
					failed.Add(1)
					log.Warn().Str("id", id).Err(err).Msg("ingest failed")
					return
				}
				log.Debug().Str("id", id).Msg("ingest ok")
			}(id)
		}
		if runErr != nil || !more || len(ids) == 0 {
			break
		}
	}
	wg.Wait()
	return IngestStats{Seen: seen.Load(), Failed: failed.Load()}, runErr
}
