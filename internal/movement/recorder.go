package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// Recorder flattens normalized odds into snapshot rows and persists them
// in fixed-size chunks. Persistence is best-effort relative to serving:
// a failed chunk is surfaced but never rolls back earlier chunks.
type Recorder struct {
	store     Store
	chunkSize int
	log       *logrus.Entry
}

// NewRecorder creates a snapshot recorder.
func NewRecorder(store Store, chunkSize int, log *logrus.Entry) *Recorder {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Recorder{
		store:     store,
		chunkSize: chunkSize,
		log:       log,
	}
}

// Record persists one snapshot per tracked tuple for this refresh cycle.
// It returns the snapshots it built so the movement detector sees the
// exact same dataset, plus the first chunk error if any occurred.
func (r *Recorder) Record(ctx context.Context, games []models.GameOdds, observedAt time.Time) ([]models.Snapshot, error) {
	snapshots := Flatten(games, observedAt)
	if len(snapshots) == 0 {
		return nil, nil
	}

	var firstErr error
	inserted := 0

	for start := 0; start < len(snapshots); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(snapshots) {
			end = len(snapshots)
		}

		if err := r.store.InsertSnapshots(ctx, snapshots[start:end]); err != nil {
			r.log.WithError(err).WithField("chunk_start", start).Error("snapshot chunk insert failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("inserting snapshot chunk at %d: %w", start, err)
			}
			continue
		}
		inserted += end - start
	}

	r.log.WithFields(logrus.Fields{
		"snapshots": len(snapshots),
		"inserted":  inserted,
	}).Info("recorded prop snapshots")

	return snapshots, firstErr
}

// Flatten extracts one snapshot per (game, subject, market, source) tuple
// that has a numeric line and both prices. Alternate levels beyond the
// first priced one are cache-only detail and are not tracked over time.
func Flatten(games []models.GameOdds, observedAt time.Time) []models.Snapshot {
	var snapshots []models.Snapshot

	for _, game := range games {
		for source, subjects := range game.Props {
			for subject, markets := range subjects {
				for marketKey, entries := range markets {
					for _, entry := range entries {
						if entry.Over == models.PriceUnavailable || entry.Under == models.PriceUnavailable {
							continue
						}
						snapshots = append(snapshots, models.Snapshot{
							CompositeKey: models.CompositeKey(game.GameID, subject, marketKey, source),
							GameID:       game.GameID,
							Subject:      subject,
							MarketKey:    marketKey,
							BookKey:      source,
							Line:         entry.Line,
							OverPrice:    entry.Over,
							UnderPrice:   entry.Under,
							ObservedAt:   observedAt,
						})
						break
					}
				}
			}
		}
	}

	return snapshots
}
