package cache_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/cache"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/normalizer"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// fakeFetcher serves canned raw games and counts upstream calls.
type fakeFetcher struct {
	games      []provider.RawGame
	gamesErr   error
	delay      time.Duration
	gamesCalls int32
	propsCalls int32

	mu sync.Mutex
}

func (f *fakeFetcher) FetchGameOdds(ctx context.Context, _ []time.Time) ([]provider.RawGame, error) {
	atomic.AddInt32(&f.gamesCalls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gamesErr != nil {
		return nil, f.gamesErr
	}
	return f.games, nil
}

func (f *fakeFetcher) FetchPlayerProps(_ context.Context, _ string) ([]provider.RawGame, error) {
	atomic.AddInt32(&f.propsCalls, 1)
	return nil, nil
}

func (f *fakeFetcher) setGames(games []provider.RawGame) {
	f.mu.Lock()
	f.games = games
	f.mu.Unlock()
}

// fakeShared is an in-memory shared tier.
type fakeShared struct {
	mu    sync.Mutex
	value *models.OddsCache
}

func (s *fakeShared) Read(_ context.Context) (*models.OddsCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *fakeShared) Write(_ context.Context, value *models.OddsCache) error {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	return nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func upcomingRawGame(id string) provider.RawGame {
	return provider.RawGame{
		ID:           id,
		AwayTeam:     "Boston Celtics",
		HomeTeam:     "Los Angeles Lakers",
		CommenceTime: time.Now().Add(4 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func newService(fetcher cache.Fetcher, shared cache.SharedStore, opts cache.Options) *cache.Service {
	if opts.SoftStaleAfter == 0 {
		opts.SoftStaleAfter = 5 * time.Minute
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 10 * time.Minute
	}
	if opts.LookbackHours == 0 {
		opts.LookbackHours = 6
	}
	if opts.LookaheadHours == 0 {
		opts.LookaheadHours = 36
	}

	norm := normalizer.New([]string{"fanduel"}, []string{"fanduel"}, testLogger())
	return cache.NewService(fetcher, norm, shared, nil, opts, testLogger())
}

func TestRefresh_PopulatesBothTiers(t *testing.T) {
	fetcher := &fakeFetcher{games: []provider.RawGame{upcomingRawGame("g1")}}
	shared := &fakeShared{}
	svc := newService(fetcher, shared, cache.Options{})

	result, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.GamesCount != 1 {
		t.Errorf("GamesCount = %d, want 1", result.GamesCount)
	}
	if shared.value == nil || len(shared.value.Games) != 1 {
		t.Error("shared tier was not written")
	}

	odds, err := svc.EnsureCache(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(odds.Games) != 1 || odds.Games[0].GameID != "g1" {
		t.Errorf("cached games = %+v", odds.Games)
	}
}

func TestEnsureCache_SingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		games: []provider.RawGame{upcomingRawGame("g1")},
		delay: 150 * time.Millisecond,
	}
	svc := newService(fetcher, &fakeShared{}, cache.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.EnsureCache(context.Background(), true); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&fetcher.gamesCalls); calls != 1 {
		t.Errorf("upstream fetches = %d, want 1 (concurrent forced refreshes must share one flight)", calls)
	}
}

func TestRefresh_EmptyResultKeepsPriorCache(t *testing.T) {
	fetcher := &fakeFetcher{games: []provider.RawGame{upcomingRawGame("g1")}}
	svc := newService(fetcher, &fakeShared{}, cache.Options{})
	ctx := context.Background()

	first, err := svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.setGames(nil)

	second, err := svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("empty refresh must not error when prior cache exists: %v", err)
	}

	if !second.LastUpdated.Equal(first.LastUpdated) {
		t.Errorf("LastUpdated advanced from %v to %v on an empty refresh", first.LastUpdated, second.LastUpdated)
	}
	if second.GamesCount != 1 {
		t.Errorf("GamesCount = %d, want the prior cache's 1", second.GamesCount)
	}

	odds, err := svc.EnsureCache(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(odds.Games) != 1 {
		t.Errorf("cache was overwritten by an empty result: %d games", len(odds.Games))
	}
}

func TestRefresh_EmptyResultWithNoPriorCacheErrors(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc := newService(fetcher, &fakeShared{}, cache.Options{})

	_, err := svc.Refresh(context.Background())
	if !errors.Is(err, cache.ErrEmptyRefresh) {
		t.Errorf("err = %v, want ErrEmptyRefresh", err)
	}
}

func TestRefresh_DropsGamesOutsideLookback(t *testing.T) {
	stale := provider.RawGame{
		ID:           "old",
		AwayTeam:     "Boston Celtics",
		HomeTeam:     "Los Angeles Lakers",
		CommenceTime: time.Now().Add(-10 * time.Hour).UTC().Format(time.RFC3339),
	}
	fetcher := &fakeFetcher{games: []provider.RawGame{stale, upcomingRawGame("g1")}}
	svc := newService(fetcher, &fakeShared{}, cache.Options{})

	result, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.GamesCount != 1 {
		t.Errorf("GamesCount = %d, want 1 (long-started game dropped)", result.GamesCount)
	}
}

func TestEnsureCache_ColdStartReadsSharedTier(t *testing.T) {
	fetcher := &fakeFetcher{}
	shared := &fakeShared{
		value: &models.OddsCache{
			Games:       []models.GameOdds{{GameID: "from-shared"}},
			LastUpdated: time.Now().UTC(),
			NextUpdate:  time.Now().UTC().Add(10 * time.Minute),
		},
	}
	svc := newService(fetcher, shared, cache.Options{})

	odds, err := svc.EnsureCache(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(odds.Games) != 1 || odds.Games[0].GameID != "from-shared" {
		t.Errorf("expected value from shared tier, got %+v", odds.Games)
	}
	if calls := atomic.LoadInt32(&fetcher.gamesCalls); calls != 0 {
		t.Errorf("upstream fetches = %d, want 0 (warm shared tier)", calls)
	}
}

func TestEnsureCache_StaleServesAndRevalidates(t *testing.T) {
	fetcher := &fakeFetcher{games: []provider.RawGame{upcomingRawGame("g1")}}
	svc := newService(fetcher, &fakeShared{}, cache.Options{
		SoftStaleAfter: time.Nanosecond, // everything is immediately stale
	})
	ctx := context.Background()

	if _, err := svc.Refresh(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The read returns instantly even though the value is stale.
	odds, err := svc.EnsureCache(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(odds.Games) != 1 {
		t.Fatalf("expected cached games, got %d", len(odds.Games))
	}

	// The background revalidation lands shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fetcher.gamesCalls) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("stale read never triggered a background refresh")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
