package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"financas/internal/cache"
	"financas/internal/core"
)

// DefaultSeries names the schedule in the cache and in snapshots.
const DefaultSeries = "selic"

// Source tells where a schedule came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceSnapshot Source = "snapshot"
)

// SnapshotStore persists the last successfully fetched schedule.
type SnapshotStore interface {
	SaveRateSnapshot(ctx context.Context, series string, records []core.RateRecord, fetchedAt time.Time) error
	LoadRateSnapshot(ctx context.Context, series string) ([]core.RateRecord, time.Time, error)
}

// Schedule is a rate history with its provenance.
type Schedule struct {
	Records   []core.RateRecord
	Source    Source
	FetchedAt time.Time
}

type cachedSchedule struct {
	records   []core.RateRecord
	fetchedAt time.Time
}

// Service memoizes the schedule for a freshness window and falls back to
// the persisted snapshot when the source is unreachable.
type Service struct {
	fetcher Fetcher
	store   SnapshotStore
	series  string
	policy  Policy
	timeout time.Duration
	memo    *cache.LRUCache[cachedSchedule]
	group   singleflight.Group
	now     func() time.Time
	log     *slog.Logger
}

// Config holds Service settings.
type Config struct {
	Series       string
	Freshness    time.Duration
	FetchTimeout time.Duration
	Policy       Policy
}

// NewService wires a fetcher and an optional snapshot store.
func NewService(fetcher Fetcher, store SnapshotStore, cfg Config, log *slog.Logger) *Service {
	if cfg.Series == "" {
		cfg.Series = DefaultSeries
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		fetcher: fetcher,
		store:   store,
		series:  cfg.Series,
		policy:  cfg.Policy,
		timeout: cfg.FetchTimeout,
		memo:    cache.NewLRUCache[cachedSchedule](4, cfg.Freshness),
		now:     time.Now,
		log:     log,
	}
}

// Cache exposes the memo for the cache manager sweep.
func (s *Service) Cache() cache.Cleaner { return s.memo }

// Schedule returns the memoized schedule, fetching it at most once per
// freshness window. Concurrent callers share one in-flight fetch, which
// outlives a cancelled caller and is bounded by the fetch timeout.
func (s *Service) Schedule(ctx context.Context) (Schedule, error) {
	if c, ok := s.memo.Get(s.series); ok {
		return Schedule{Records: c.records, Source: SourceCache, FetchedAt: c.fetchedAt}, nil
	}

	v, err, _ := s.group.Do(s.series, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Schedule{}, err
	}
	return v.(Schedule), nil
}

func (s *Service) refresh(ctx context.Context) (Schedule, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, fetchErr := s.fetcher.FetchSchedule(fetchCtx)
	if fetchErr == nil {
		fetchedAt := s.now()
		s.memo.Set(s.series, cachedSchedule{records: records, fetchedAt: fetchedAt})
		if s.store != nil {
			if err := s.store.SaveRateSnapshot(ctx, s.series, records, fetchedAt); err != nil {
				s.log.WarnContext(ctx, "Failed to persist rate snapshot", "series", s.series, "error", err)
			}
		}
		return Schedule{Records: records, Source: SourceNetwork, FetchedAt: fetchedAt}, nil
	}

	s.log.WarnContext(ctx, "Rate schedule fetch failed", "series", s.series, "error", fetchErr)
	if s.store == nil {
		return Schedule{}, fmt.Errorf("fetch rate schedule: %w", fetchErr)
	}

	records, fetchedAt, err := s.store.LoadRateSnapshot(ctx, s.series)
	if err != nil {
		return Schedule{}, fmt.Errorf("fetch rate schedule: %w", errors.Join(fetchErr, err))
	}
	if len(records) == 0 {
		return Schedule{}, fmt.Errorf("fetch rate schedule: %w", errors.Join(fetchErr, ErrEmptySchedule))
	}
	s.log.InfoContext(ctx, "Using persisted rate snapshot", "series", s.series, "fetched_at", fetchedAt, "records", len(records))
	// Stale snapshots are not memoized so the next call retries the source.
	return Schedule{Records: records, Source: SourceSnapshot, FetchedAt: fetchedAt}, nil
}

// RateAt resolves the rate in force at d with the configured policy.
func (s *Service) RateAt(ctx context.Context, d core.Date) (core.RateRecord, Source, error) {
	sched, err := s.Schedule(ctx)
	if err != nil {
		return core.RateRecord{}, "", err
	}
	rec, err := LookupWith(s.policy, sched.Records, d)
	if err != nil {
		return core.RateRecord{}, sched.Source, err
	}
	return rec, sched.Source, nil
}

// Refresh bypasses the memo and fetches the schedule now.
func (s *Service) Refresh(ctx context.Context) (Schedule, error) {
	s.memo.Delete(s.series)
	v, err, _ := s.group.Do(s.series, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Schedule{}, err
	}
	return v.(Schedule), nil
}

// Invalidate drops the memoized schedule.
func (s *Service) Invalidate() {
	s.memo.Delete(s.series)
}
