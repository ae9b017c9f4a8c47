package pruner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the slice of the persistent store the pruner needs. The store
// has no single delete-with-limit, so pruning selects a bounded batch of
// ids first and then deletes exactly that batch.
type Store interface {
	SelectSnapshotIDsBefore(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	DeleteSnapshots(ctx context.Context, ids []int64) (int64, error)
	SelectEventIDsBefore(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	DeleteEvents(ctx context.Context, ids []int64) (int64, error)
}

// Result summarizes one prune run.
type Result struct {
	SnapshotsDeleted int64 `json:"snapshots_deleted"`
	EventsDeleted    int64 `json:"events_deleted"`
}

// Pruner deletes snapshots and movement events older than the retention
// horizon, in bounded batches, independent of refresh cycles.
type Pruner struct {
	store     Store
	horizon   time.Duration
	batchSize int
	log       *logrus.Entry

	now func() time.Time
}

// New creates a retention pruner.
func New(store Store, horizon time.Duration, batchSize int, log *logrus.Entry) *Pruner {
	return &Pruner{
		store:     store,
		horizon:   horizon,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// Prune runs one full pass. Rows exactly at the cutoff timestamp are
// retained; only strictly older rows go.
func (p *Pruner) Prune(ctx context.Context) (Result, error) {
	cutoff := p.now().UTC().Add(-p.horizon)

	var result Result

	snapshots, err := p.pruneTable(ctx, cutoff, p.store.SelectSnapshotIDsBefore, p.store.DeleteSnapshots)
	result.SnapshotsDeleted = snapshots
	if err != nil {
		return result, fmt.Errorf("pruning snapshots: %w", err)
	}

	events, err := p.pruneTable(ctx, cutoff, p.store.SelectEventIDsBefore, p.store.DeleteEvents)
	result.EventsDeleted = events
	if err != nil {
		return result, fmt.Errorf("pruning movement events: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"cutoff":    cutoff,
		"snapshots": result.SnapshotsDeleted,
		"events":    result.EventsDeleted,
	}).Info("prune pass complete")

	return result, nil
}

// pruneTable repeats select-then-delete until a batch comes back short,
// which means the table has no more eligible rows.
func (p *Pruner) pruneTable(
	ctx context.Context,
	cutoff time.Time,
	selectIDs func(context.Context, time.Time, int) ([]int64, error),
	deleteIDs func(context.Context, []int64) (int64, error),
) (int64, error) {
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		ids, err := selectIDs(ctx, cutoff, p.batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		deleted, err := deleteIDs(ctx, ids)
		total += deleted
		if err != nil {
			return total, err
		}

		if len(ids) < p.batchSize {
			return total, nil
		}
	}
}
