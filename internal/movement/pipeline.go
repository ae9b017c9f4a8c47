package movement

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// Pipeline runs the post-refresh persistence chain: record snapshots,
// derive movement events, publish them. Every stage is best-effort
// relative to serving fresh data; by the time this runs the cache has
// already been swapped, so failures here are logged and absorbed.
type Pipeline struct {
	recorder  *Recorder
	detector  *Detector
	publisher *StreamPublisher // optional
	log       *logrus.Entry
}

// NewPipeline wires the persistence chain. publisher may be nil.
func NewPipeline(recorder *Recorder, detector *Detector, publisher *StreamPublisher, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		recorder:  recorder,
		detector:  detector,
		publisher: publisher,
		log:       log,
	}
}

// Persist processes one refresh cycle's normalized dataset. The recorder
// and detector see the exact same flattened snapshots.
func (p *Pipeline) Persist(ctx context.Context, cycleID string, games []models.GameOdds, observedAt time.Time) {
	log := p.log.WithField("cycle_id", cycleID)

	snapshots, err := p.recorder.Record(ctx, games, observedAt)
	if err != nil {
		log.WithError(err).Error("snapshot recording failed")
	}
	if len(snapshots) == 0 {
		return
	}

	events, err := p.detector.Process(ctx, snapshots)
	if err != nil {
		log.WithError(err).Error("movement detection failed")
	}

	if p.publisher != nil && len(events) > 0 {
		if err := p.publisher.PublishBatch(ctx, cycleID, events); err != nil {
			log.WithError(err).Error("movement event publish failed")
		}
	}
}
