package movement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// Detector compares each new snapshot against the latest known state for
// its composite key and derives discrete movement events. Feeding it the
// same snapshot twice is safe: an identical line produces no change and,
// inside the quiet period, no event.
type Detector struct {
	store       Store
	epsilon     float64
	quietPeriod time.Duration
	chunkSize   int
	log         *logrus.Entry
}

// defaultChunkSize bounds batched reads and writes when the caller
// passes a non-positive chunk size.
const defaultChunkSize = 500

// NewDetector creates a movement detector.
func NewDetector(store Store, epsilon float64, quietPeriod time.Duration, chunkSize int, log *logrus.Entry) *Detector {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Detector{
		store:       store,
		epsilon:     epsilon,
		quietPeriod: quietPeriod,
		chunkSize:   chunkSize,
		log:         log,
	}
}

// Process runs the detection pass for one refresh cycle and returns the
// events it emitted. All state is batch-read before any write for the
// same keys is computed.
func (d *Detector) Process(ctx context.Context, snapshots []models.Snapshot) ([]models.MovementEvent, error) {
	if len(snapshots) == 0 {
		return nil, nil
	}

	states, err := d.fetchStates(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("fetching movement state: %w", err)
	}

	var events []models.MovementEvent

	for _, snap := range snapshots {
		prev, seen := states[snap.CompositeKey]

		var previousLine *float64
		if seen {
			line := prev.CurrentLine
			previousLine = &line
		}

		delta := 0.0
		if previousLine != nil {
			delta = round2(snap.Line - *previousLine)
		}
		changed := previousLine != nil && math.Abs(delta) >= d.epsilon

		quietElapsed := seen && snap.ObservedAt.Sub(prev.LastEventAt) > d.quietPeriod
		emit := changed || previousLine == nil || quietElapsed

		if emit {
			events = append(events, models.MovementEvent{
				CompositeKey: snap.CompositeKey,
				GameID:       snap.GameID,
				Subject:      snap.Subject,
				MarketKey:    snap.MarketKey,
				BookKey:      snap.BookKey,
				PreviousLine: previousLine,
				NewLine:      snap.Line,
				Delta:        delta,
				RecordedAt:   snap.ObservedAt,
			})
		}

		states[snap.CompositeKey] = d.nextState(prev, seen, snap, changed, emit)
	}

	updated := make([]models.MovementState, 0, len(states))
	for _, st := range states {
		updated = append(updated, st)
	}

	if err := d.writeBack(ctx, updated, events); err != nil {
		return events, err
	}

	d.log.WithFields(logrus.Fields{
		"snapshots": len(snapshots),
		"events":    len(events),
	}).Info("movement detection complete")

	return events, nil
}

// fetchStates batch-loads state for every key in the cycle, chunked the
// same way as the writes.
func (d *Detector) fetchStates(ctx context.Context, snapshots []models.Snapshot) (map[string]models.MovementState, error) {
	seen := make(map[string]struct{}, len(snapshots))
	var keys []string
	for _, snap := range snapshots {
		if _, dup := seen[snap.CompositeKey]; dup {
			continue
		}
		seen[snap.CompositeKey] = struct{}{}
		keys = append(keys, snap.CompositeKey)
	}

	states := make(map[string]models.MovementState, len(keys))
	for start := 0; start < len(keys); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(keys) {
			end = len(keys)
		}

		chunk, err := d.store.GetStates(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		for k, v := range chunk {
			states[k] = v
		}
	}

	return states, nil
}

// nextState folds one observation into the key's state. Opening values
// are carried forward untouched once set; LineLastChangedAt only advances
// on an actual change.
func (d *Detector) nextState(prev models.MovementState, seen bool, snap models.Snapshot, changed, emitted bool) models.MovementState {
	st := models.MovementState{
		CompositeKey: snap.CompositeKey,
		GameID:       snap.GameID,
		Subject:      snap.Subject,
		MarketKey:    snap.MarketKey,
		BookKey:      snap.BookKey,
		CurrentLine:  snap.Line,
		CurrentOver:  snap.OverPrice,
		CurrentUnder: snap.UnderPrice,
		UpdatedAt:    snap.ObservedAt,
	}

	if seen {
		st.OpeningLine = prev.OpeningLine
		st.OpeningOver = prev.OpeningOver
		st.OpeningUnder = prev.OpeningUnder
		st.OpeningObservedAt = prev.OpeningObservedAt
		st.LineLastChangedAt = prev.LineLastChangedAt
		st.LastEventAt = prev.LastEventAt
	} else {
		st.OpeningLine = snap.Line
		st.OpeningOver = snap.OverPrice
		st.OpeningUnder = snap.UnderPrice
		st.OpeningObservedAt = snap.ObservedAt
		st.LineLastChangedAt = snap.ObservedAt
	}

	if changed {
		st.LineLastChangedAt = snap.ObservedAt
	}
	if emitted {
		st.LastEventAt = snap.ObservedAt
	}

	return st
}

// writeBack persists state upserts and event inserts in chunks. A failed
// chunk is logged and skipped so one bad batch cannot sink the cycle.
func (d *Detector) writeBack(ctx context.Context, states []models.MovementState, events []models.MovementEvent) error {
	var firstErr error

	for start := 0; start < len(states); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(states) {
			end = len(states)
		}
		if err := d.store.UpsertStates(ctx, states[start:end]); err != nil {
			d.log.WithError(err).WithField("chunk_start", start).Error("state upsert chunk failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("upserting state chunk at %d: %w", start, err)
			}
		}
	}

	for start := 0; start < len(events); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(events) {
			end = len(events)
		}
		if err := d.store.InsertEvents(ctx, events[start:end]); err != nil {
			d.log.WithError(err).WithField("chunk_start", start).Error("event insert chunk failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("inserting event chunk at %d: %w", start, err)
			}
		}
	}

	return firstErr
}

// round2 rounds to two decimal places, the provider's line precision.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
