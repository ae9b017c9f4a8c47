package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/cache"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/pruner"
)

// Scheduler drives the refresh and prune loops on independent tickers.
// A slow or failing prune never blocks a refresh; the loops share
// nothing but the context.
type Scheduler struct {
	cache        *cache.Service
	pruner       *pruner.Pruner
	refreshEvery time.Duration
	pruneEvery   time.Duration
	log          *logrus.Entry
}

// New creates a scheduler.
func New(cacheService *cache.Service, prune *pruner.Pruner, refreshEvery, pruneEvery time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cache:        cacheService,
		pruner:       prune,
		refreshEvery: refreshEvery,
		pruneEvery:   pruneEvery,
		log:          log,
	}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pruneLoop(ctx)
	}()

	wg.Wait()
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	s.log.WithField("interval", s.refreshEvery.String()).Info("refresh loop started")

	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	s.refreshOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("refresh loop stopped")
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *Scheduler) refreshOnce(ctx context.Context) {
	result, err := s.cache.Refresh(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled refresh failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"games":       result.GamesCount,
		"next_update": result.NextUpdate,
	}).Info("scheduled refresh complete")
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	s.log.WithField("interval", s.pruneEvery.String()).Info("prune loop started")

	ticker := time.NewTicker(s.pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("prune loop stopped")
			return
		case <-ticker.C:
			if _, err := s.pruner.Prune(ctx); err != nil {
				s.log.WithError(err).Error("scheduled prune failed")
			}
		}
	}
}
