package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/sweepcollect/pkg/collect/collector"
	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

var log = logging.Get("cache")

// Cache provides high-level caching operations for run histories.
type Cache struct {
	store *Store
}

// Open opens or creates a cache at the given path.
func Open(path string) (*Cache, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.store.Close()
}

// History returns the cached steps of run when they were fetched with the
// same number of samples.
func (c *Cache) History(run *types.Run, samples int) ([]*types.Record, bool) {
	entry, err := c.store.Get(run.Path.String(), run.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("Unreadable cache entry", "run", run.ID, "error", err)
		}
		return nil, false
	}
	if entry.Samples != samples {
		return nil, false
	}
	return entry.Steps, true
}

// Update stores the steps of run. Runs that have not finished are skipped
// since their history can still grow.
func (c *Cache) Update(run *types.Run, samples int, steps []*types.Record) error {
	if !run.Finished() {
		return nil
	}
	return c.store.Put(run.Path.String(), run.ID, &CachedHistory{
		Samples:  samples,
		StoredAt: time.Now().UnixNano(),
		Steps:    steps,
	})
}

// Clear removes all cached entries for a sweep.
func (c *Cache) Clear(sweep string) (int, error) {
	return c.store.DeletePrefix(sweep)
}

// ClearAll removes all cached entries.
func (c *Cache) ClearAll() (int, error) {
	return c.store.DeletePrefix("")
}

// Stats summarizes the cache contents.
func (c *Cache) Stats() (Stats, error) {
	return c.store.Stats()
}

// Service serves run histories from the cache and falls through to the
// wrapped service on a miss.
type Service struct {
	next   collector.Service
	cache  *Cache
	hits   atomic.Int64
	misses atomic.Int64
}

var _ collector.Service = (*Service)(nil)

// Wrap returns a collector.Service that caches the histories of finished
// runs fetched through next.
func Wrap(next collector.Service, c *Cache) *Service {
	return &Service{next: next, cache: c}
}

// GetSweep is passed through uncached.
func (s *Service) GetSweep(ctx context.Context, path types.SweepPath) (*types.Sweep, error) {
	return s.next.GetSweep(ctx, path)
}

// Runs is passed through uncached; run states change while a sweep is live.
func (s *Service) Runs(ctx context.Context, sweep *types.Sweep) ([]*types.Run, error) {
	return s.next.Runs(ctx, sweep)
}

// History returns the cached history of a finished run, fetching and
// storing it on a miss.
func (s *Service) History(ctx context.Context, run *types.Run, samples int) ([]*types.Record, error) {
	if run.Finished() {
		if steps, ok := s.cache.History(run, samples); ok {
			s.hits.Add(1)
			log.Debug("History cache hit", "run", run.ID, "steps", len(steps))
			return steps, nil
		}
	}
	s.misses.Add(1)

	steps, err := s.next.History(ctx, run, samples)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Update(run, samples, steps); err != nil {
		log.Warn("Failed to cache history", "run", run.ID, "error", err)
	}
	return steps, nil
}

// Hits returns the number of histories served from the cache.
func (s *Service) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the number of histories fetched from the wrapped service.
func (s *Service) Misses() int64 {
	return s.misses.Load()
}
