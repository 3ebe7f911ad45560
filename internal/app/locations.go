package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"geolisting/internal/adapters/observability"
	"geolisting/internal/domain"
)

// maxDepth bounds parent-chain walks on data that was never validated.
const maxDepth = 64

type LocationService struct {
	repo     domain.LocationRepository
	cache    domain.Cache
	cacheTTL time.Duration
	workers  int
}

func NewLocationService(r domain.LocationRepository, c domain.Cache, ttl time.Duration, workers int) *LocationService {
	if workers < 1 {
		workers = 1
	}
	return &LocationService{repo: r, cache: c, cacheTTL: ttl, workers: workers}
}

func locationCacheKey(id string) string { return "location:" + id }

// Save creates or replaces a location. A parent must exist and may not be
// the location itself or one of its descendants.
func (s *LocationService) Save(ctx context.Context, l domain.Location) error {
	if err := domain.Validate(l); err != nil {
		return err
	}
	if err := s.checkParent(ctx, l.ID, l.ParentID); err != nil {
		return err
	}
	if err := s.repo.UpsertLocation(ctx, l); err != nil {
		return err
	}
	s.evict(ctx, l.ID)
	return nil
}

func (s *LocationService) Get(ctx context.Context, id string) (domain.Location, error) {
	var l domain.Location
	if s.cache != nil {
		if ok, err := s.cache.Get(ctx, locationCacheKey(id), &l); ok && err == nil {
			return l, nil
		}
	}
	l, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return domain.Location{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, locationCacheKey(id), l, int(s.cacheTTL.Seconds()))
	}
	return l, nil
}

func (s *LocationService) Children(ctx context.Context, id string) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx, domain.LocationQuery{ParentID: &id})
}

// Ancestors returns the parent chain of id, nearest first, ending at a root.
// A chain that revisits a location fails with domain.ErrCycle.
func (s *LocationService) Ancestors(ctx context.Context, id string) ([]domain.Location, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{l.ID: true}
	var out []domain.Location
	for l.ParentID != nil {
		pid := *l.ParentID
		if seen[pid] || len(out) >= maxDepth {
			return nil, fmt.Errorf("location %s via %s: %w", id, pid, domain.ErrCycle)
		}
		seen[pid] = true
		if l, err = s.Get(ctx, pid); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *LocationService) checkParent(ctx context.Context, id string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return fmt.Errorf("location %s is its own parent: %w", id, domain.ErrCycle)
	}
	chain, err := s.Ancestors(ctx, *parentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("location %s parent %s: %w", id, *parentID, domain.ErrMissingReference)
	}
	if err != nil {
		return err
	}
	for _, a := range chain {
		if a.ID == id {
			return fmt.Errorf("location %s under %s: %w", id, *parentID, domain.ErrCycle)
		}
	}
	return nil
}

// Delete removes the location, its descendants and everything attached.
func (s *LocationService) Delete(ctx context.Context, id string) error {
	doomed, err := s.subtree(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteLocation(ctx, id); err != nil {
		return err
	}
	for _, d := range doomed {
		s.evict(ctx, d)
	}
	return nil
}

func (s *LocationService) subtree(ctx context.Context, id string) ([]string, error) {
	if _, err := s.repo.GetLocation(ctx, id); err != nil {
		return nil, err
	}
	out := []string{id}
	for i := 0; i < len(out) && i < 100_000; i++ {
		kids, err := s.Children(ctx, out[i])
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			out = append(out, k.ID)
		}
	}
	return out, nil
}

func (s *LocationService) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	for _, k := range []string{locationCacheKey(id), SitemapCacheKey} {
		if err := s.cache.Del(ctx, k); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("cache evict failed")
		}
	}
}

/********** import **********/

// cycleAfterImport walks up from the proposed parent of r over the tree as
// it will look once the batch lands: accepted batch rows stand in for their
// stored versions. Reaching r again, or any id twice, is a cycle.
func (s *LocationService) cycleAfterImport(ctx context.Context, r *importRow, byID map[string]*importRow, failed map[string]error) error {
	seen := map[string]bool{r.loc.ID: true}
	next := r.loc.ParentID
	for steps := 0; next != nil; steps++ {
		id := *next
		if seen[id] || steps >= maxDepth {
			return fmt.Errorf("location %s under %s: %w", r.loc.ID, *r.loc.ParentID, domain.ErrCycle)
		}
		seen[id] = true
		if b, ok := byID[id]; ok {
			if _, bad := failed[id]; !bad {
				next = b.loc.ParentID
				continue
			}
		}
		l, err := s.repo.GetLocation(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// dangling parents are reported by depthOf
			return nil
		}
		if err != nil {
			return err
		}
		next = l.ParentID
	}
	return nil
}

// RowError is a rejected import row. Row is 1-based in input order.
type RowError struct {
	Row int
	ID  string
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d (%s): %v", e.Row, e.ID, e.Err) }
func (e RowError) Unwrap() error { return e.Err }

type ImportReport struct {
	Imported int
	Rejected []RowError
}

type importRow struct {
	pos   int
	loc   domain.Location
	depth int
}

// Import upserts a batch of locations parent first. A parent may come from
// the same batch or already be stored. Bad rows are reported and skipped,
// along with any row below them; the rest of the batch still lands.
func (s *LocationService) Import(ctx context.Context, rows []domain.Location) (ImportReport, error) {
	var rep ImportReport
	reject := func(pos int, id string, err error) {
		rep.Rejected = append(rep.Rejected, RowError{Row: pos + 1, ID: id, Err: err})
	}

	byID := map[string]*importRow{}
	var order []*importRow
	for i, l := range rows {
		if err := domain.Validate(l); err != nil {
			reject(i, l.ID, err)
			continue
		}
		if _, dup := byID[l.ID]; dup {
			reject(i, l.ID, fmt.Errorf("id repeated in batch: %w", domain.ErrDuplicate))
			continue
		}
		r := &importRow{pos: i, loc: l, depth: -1}
		byID[l.ID] = r
		order = append(order, r)
	}

	// depth is the distance to the first ancestor outside the batch
	failed := map[string]error{}
	var depthOf func(r *importRow, path map[string]bool) (int, error)
	depthOf = func(r *importRow, path map[string]bool) (int, error) {
		if r.depth >= 0 {
			return r.depth, nil
		}
		if err, ok := failed[r.loc.ID]; ok {
			return 0, err
		}
		p := r.loc.ParentID
		if p == nil {
			r.depth = 0
			return 0, nil
		}
		parent, inBatch := byID[*p]
		if !inBatch {
			if err := s.checkParent(ctx, r.loc.ID, p); err != nil {
				return 0, err
			}
			r.depth = 0
			return 0, nil
		}
		if path[r.loc.ID] || *p == r.loc.ID {
			return 0, fmt.Errorf("location %s: %w", r.loc.ID, domain.ErrCycle)
		}
		path[r.loc.ID] = true
		d, err := depthOf(parent, path)
		if err != nil {
			if !errors.Is(err, domain.ErrCycle) {
				err = fmt.Errorf("parent %s rejected: %w", *p, domain.ErrMissingReference)
			}
			return 0, err
		}
		r.depth = d + 1
		return r.depth, nil
	}

	levels := map[int][]*importRow{}
	maxLevel := -1
	for _, r := range order {
		d, err := depthOf(r, map[string]bool{})
		if err == nil {
			err = s.cycleAfterImport(ctx, r, byID, failed)
		}
		if err != nil {
			failed[r.loc.ID] = err
			reject(r.pos, r.loc.ID, err)
			continue
		}
		levels[d] = append(levels[d], r)
		maxLevel = max(maxLevel, d)
	}

	var mu sync.Mutex
	for d := 0; d <= maxLevel; d++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, r := range levels[d] {
			if r.loc.ParentID != nil {
				mu.Lock()
				_, parentFailed := failed[*r.loc.ParentID]
				if parentFailed {
					err := fmt.Errorf("parent %s rejected: %w", *r.loc.ParentID, domain.ErrMissingReference)
					failed[r.loc.ID] = err
					reject(r.pos, r.loc.ID, err)
				}
				mu.Unlock()
				if parentFailed {
					continue
				}
			}
			g.Go(func() error {
				err := s.repo.UpsertLocation(gctx, r.loc)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failed[r.loc.ID] = err
					reject(r.pos, r.loc.ID, err)
					return nil
				}
				rep.Imported++
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return rep, err
		}
	}

	for _, r := range order {
		if _, bad := failed[r.loc.ID]; !bad {
			s.evict(ctx, r.loc.ID)
		}
	}
	sort.Slice(rep.Rejected, func(i, j int) bool { return rep.Rejected[i].Row < rep.Rejected[j].Row })
	for _, e := range rep.Rejected {
		log.Warn().Int("row", e.Row).Str("id", e.ID).Err(e.Err).Msg("location import row rejected")
	}
	observability.ObserveImport(rep.Imported, len(rep.Rejected))
	return rep, nil
}
