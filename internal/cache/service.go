package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/normalizer"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/retry"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// ErrEmptyRefresh is returned when a refresh normalizes to zero servable
// games and there is no prior cache value to fall back to.
var ErrEmptyRefresh = errors.New("refresh produced no games and no prior cache exists")

// Fetcher is the upstream surface the service needs; satisfied by
// provider.Client and by fakes in tests.
type Fetcher interface {
	FetchGameOdds(ctx context.Context, dates []time.Time) ([]provider.RawGame, error)
	FetchPlayerProps(ctx context.Context, gameID string) ([]provider.RawGame, error)
}

// SharedStore is the shared persistent cache tier.
type SharedStore interface {
	Read(ctx context.Context) (*models.OddsCache, error)
	Write(ctx context.Context, cache *models.OddsCache) error
}

// Persister handles post-refresh snapshot and movement persistence.
// Failures there are logged and never fail the refresh; the cache is
// updated from the normalized data before persistence is attempted.
type Persister interface {
	Persist(ctx context.Context, cycleID string, games []models.GameOdds, observedAt time.Time)
}

// RefreshResult is returned by explicit refresh triggers.
type RefreshResult struct {
	GamesCount  int       `json:"games_count"`
	LastUpdated time.Time `json:"last_updated"`
	NextUpdate  time.Time `json:"next_update"`
}

// Options configures a Service.
type Options struct {
	SoftStaleAfter  time.Duration
	RefreshInterval time.Duration
	LookbackHours   int
	LookaheadHours  int
	PropWorkers     int
	// Bounded retries for upstream 429s.
	RateLimitRetries int
	RetryBaseDelay   time.Duration
}

// Service owns the canonical odds dataset. It serves reads from the
// in-process tier immediately (stale or not), revalidates stale data in
// the background, and guarantees at most one upstream refresh in flight
// per instance: concurrent triggers attach to the same operation.
type Service struct {
	fetcher    Fetcher
	normalizer *normalizer.Normalizer
	shared     SharedStore
	persister  Persister
	retryPol   *retry.Policy
	opts       Options
	log        *logrus.Entry

	mu      sync.RWMutex
	current *models.OddsCache

	// The in-flight refresh handle lives inside the group; it is shared
	// by every concurrent trigger and cleared when the operation settles,
	// success or failure.
	flight     singleflight.Group
	refreshing sync.Mutex // held only while deciding to spawn a background refresh
	inFlight   bool

	now func() time.Time
}

// NewService creates a cache service.
func NewService(
	fetcher Fetcher,
	norm *normalizer.Normalizer,
	shared SharedStore,
	persister Persister,
	opts Options,
	log *logrus.Entry,
) *Service {
	if opts.PropWorkers <= 0 {
		opts.PropWorkers = 5
	}
	if opts.RateLimitRetries <= 0 {
		opts.RateLimitRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}

	return &Service{
		fetcher:    fetcher,
		normalizer: norm,
		shared:     shared,
		persister:  persister,
		retryPol:   retry.NewPolicy(opts.RateLimitRetries, opts.RetryBaseDelay),
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// EnsureCache is the only read entry point. It returns cached data
// immediately, possibly stale; a stale value triggers a background
// revalidation without blocking the caller. With forceRefresh the caller
// waits for a refresh, attaching to one already in flight if present.
func (s *Service) EnsureCache(ctx context.Context, forceRefresh bool) (*models.OddsCache, error) {
	if forceRefresh {
		if _, err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return s.snapshot(), nil
	}

	cached := s.snapshot()

	if cached == nil {
		// Memory tier cold: try the shared tier before paying for an
		// upstream fetch.
		fromShared, err := s.shared.Read(ctx)
		if err != nil {
			s.log.WithError(err).Warn("shared cache tier read failed")
		}
		if fromShared != nil && len(fromShared.Games) > 0 {
			s.mu.Lock()
			if s.current == nil {
				s.current = fromShared
			}
			cached = s.current
			s.mu.Unlock()
		}
	}

	if cached == nil {
		if _, err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return s.snapshot(), nil
	}

	if cached.Age(s.now()) >= s.opts.SoftStaleAfter {
		s.triggerBackgroundRefresh()
	}

	return cached, nil
}

// Refresh performs (or joins) a refresh and reports the resulting cache
// header. All concurrent callers observe the same outcome.
func (s *Service) Refresh(ctx context.Context) (RefreshResult, error) {
	value, err, _ := s.flight.Do("refresh", func() (interface{}, error) {
		s.setInFlight(true)
		defer s.setInFlight(false)
		return s.refresh(ctx)
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return value.(RefreshResult), nil
}

// triggerBackgroundRefresh starts a fire-and-forget revalidation unless
// one is already in flight. The spawned task has its own deadline and
// error handling so a slow or failing upstream cannot touch the serving
// path.
func (s *Service) triggerBackgroundRefresh() {
	s.refreshing.Lock()
	busy := s.inFlight
	s.refreshing.Unlock()
	if busy {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("panic", r).Error("background refresh panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := s.Refresh(ctx); err != nil {
			s.log.WithError(err).Warn("background refresh failed")
		}
	}()
}

func (s *Service) setInFlight(v bool) {
	s.refreshing.Lock()
	s.inFlight = v
	s.refreshing.Unlock()
}

// refresh performs one full cycle: fetch, normalize, validate, swap both
// cache tiers, then hand the dataset to the persistence pipeline.
func (s *Service) refresh(ctx context.Context) (RefreshResult, error) {
	cycleID := uuid.NewString()
	start := s.now()
	log := s.log.WithField("cycle_id", cycleID)

	rawGames, err := s.fetchGames(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("fetching game odds: %w", err)
	}

	rawProps := s.fetchProps(ctx, log, rawGames)

	games := s.normalizer.Normalize(rawGames, rawProps)
	games = s.dropExpiredGames(games)

	if len(games) == 0 {
		// Never overwrite a populated cache with an empty result; a
		// transient upstream hiccup must not wipe served data.
		if prior := s.snapshot(); prior != nil {
			log.Warn("refresh produced no games, keeping prior cache")
			return RefreshResult{
				GamesCount:  len(prior.Games),
				LastUpdated: prior.LastUpdated,
				NextUpdate:  prior.NextUpdate,
			}, nil
		}
		return RefreshResult{}, ErrEmptyRefresh
	}

	now := s.now()
	fresh := &models.OddsCache{
		Games:       games,
		LastUpdated: now,
		NextUpdate:  now.Add(s.opts.RefreshInterval),
	}

	s.mu.Lock()
	s.current = fresh
	s.mu.Unlock()

	if err := s.shared.Write(ctx, fresh); err != nil {
		log.WithError(err).Warn("shared cache tier write failed")
	}

	if s.persister != nil {
		s.persister.Persist(ctx, cycleID, games, now)
	}

	log.WithFields(logrus.Fields{
		"games":    len(games),
		"duration": s.now().Sub(start).String(),
	}).Info("refresh complete")

	return RefreshResult{
		GamesCount:  len(games),
		LastUpdated: fresh.LastUpdated,
		NextUpdate:  fresh.NextUpdate,
	}, nil
}

// fetchGames pulls the bulk game-odds feed for the eligible date range,
// retrying bounded times on upstream rate limits.
func (s *Service) fetchGames(ctx context.Context) ([]provider.RawGame, error) {
	dates := s.eligibleDates()

	var rawGames []provider.RawGame
	err := s.retryPol.Execute(ctx, provider.IsRateLimited, func() error {
		var fetchErr error
		rawGames, fetchErr = s.fetcher.FetchGameOdds(ctx, dates)
		return fetchErr
	})
	return rawGames, err
}

// fetchProps fans out one call per eligible game through a bounded worker
// pool. Individual failures are collected and logged; the games that
// succeeded proceed.
func (s *Service) fetchProps(ctx context.Context, log *logrus.Entry, rawGames []provider.RawGame) []provider.RawGame {
	refs := normalizer.GameRefs(rawGames)

	now := s.now()
	windowStart := now.Add(-time.Duration(s.opts.LookbackHours) * time.Hour)
	windowEnd := now.Add(time.Duration(s.opts.LookaheadHours) * time.Hour)

	var eligible []normalizer.GameRef
	for _, ref := range refs {
		if ref.CommenceTime.Before(windowStart) || ref.CommenceTime.After(windowEnd) {
			continue
		}
		eligible = append(eligible, ref)
	}

	var (
		mu       sync.Mutex
		rawProps []provider.RawGame
		failed   int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.PropWorkers)

	for _, ref := range eligible {
		ref := ref
		group.Go(func() error {
			var props []provider.RawGame
			err := s.retryPol.Execute(groupCtx, provider.IsRateLimited, func() error {
				var fetchErr error
				props, fetchErr = s.fetcher.FetchPlayerProps(groupCtx, ref.GameID)
				return fetchErr
			})
			if err != nil {
				// One game's timeout or failure must not cancel its
				// siblings, so errors stay out of the group's return.
				log.WithError(err).WithField("game_id", ref.GameID).Warn("prop fetch failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			rawProps = append(rawProps, props...)
			mu.Unlock()
			return nil
		})
	}

	_ = group.Wait()

	if failed > 0 {
		log.WithFields(logrus.Fields{
			"failed":   failed,
			"eligible": len(eligible),
		}).Warn("partial prop fetch failures")
	}

	return rawProps
}

// dropExpiredGames removes games that started before the lookback window;
// the empty-result guard in refresh covers the case where this would
// remove everything.
func (s *Service) dropExpiredGames(games []models.GameOdds) []models.GameOdds {
	cutoff := s.now().Add(-time.Duration(s.opts.LookbackHours) * time.Hour)

	kept := games[:0]
	for _, game := range games {
		if game.CommenceTime.Before(cutoff) {
			continue
		}
		kept = append(kept, game)
	}
	return kept
}

// eligibleDates lists the calendar dates covered by the lookback and
// lookahead windows.
func (s *Service) eligibleDates() []time.Time {
	now := s.now().UTC()
	first := now.Add(-time.Duration(s.opts.LookbackHours) * time.Hour).Truncate(24 * time.Hour)
	last := now.Add(time.Duration(s.opts.LookaheadHours) * time.Hour).Truncate(24 * time.Hour)

	var dates []time.Time
	for d := first; !d.After(last); d = d.Add(24 * time.Hour) {
		dates = append(dates, d)
	}
	return dates
}

// snapshot returns the current in-process cache value. The value is
// replaced wholesale on refresh and never mutated, so handing out the
// pointer is safe.
func (s *Service) snapshot() *models.OddsCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
