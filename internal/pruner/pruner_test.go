package pruner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeStore holds rows as id -> timestamp maps.
type fakeStore struct {
	snapshots map[int64]time.Time
	events    map[int64]time.Time

	selectCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: make(map[int64]time.Time),
		events:    make(map[int64]time.Time),
	}
}

func (s *fakeStore) SelectSnapshotIDsBefore(_ context.Context, cutoff time.Time, limit int) ([]int64, error) {
	s.selectCalls++
	return selectBefore(s.snapshots, cutoff, limit), nil
}

func (s *fakeStore) DeleteSnapshots(_ context.Context, ids []int64) (int64, error) {
	return deleteRows(s.snapshots, ids), nil
}

func (s *fakeStore) SelectEventIDsBefore(_ context.Context, cutoff time.Time, limit int) ([]int64, error) {
	return selectBefore(s.events, cutoff, limit), nil
}

func (s *fakeStore) DeleteEvents(_ context.Context, ids []int64) (int64, error) {
	return deleteRows(s.events, ids), nil
}

// selectBefore mirrors the store's strict `<` comparison.
func selectBefore(rows map[int64]time.Time, cutoff time.Time, limit int) []int64 {
	var ids []int64
	for id, ts := range rows {
		if ts.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids
}

func deleteRows(rows map[int64]time.Time, ids []int64) int64 {
	var deleted int64
	for _, id := range ids {
		if _, ok := rows[id]; ok {
			delete(rows, id)
			deleted++
		}
	}
	return deleted
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func TestPrune_BoundaryRowRetained(t *testing.T) {
	store := newFakeStore()
	horizon := 100 * time.Hour
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	store.snapshots[1] = now.Add(-horizon)               // exactly at cutoff: keep
	store.snapshots[2] = now.Add(-horizon - time.Second) // older: delete
	store.snapshots[3] = now.Add(-time.Hour)             // recent: keep
	store.events[4] = now.Add(-horizon - 2*time.Hour)    // older: delete

	p := New(store, horizon, 100, testLogger())
	p.now = func() time.Time { return now }

	result, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.SnapshotsDeleted != 1 {
		t.Errorf("SnapshotsDeleted = %d, want 1", result.SnapshotsDeleted)
	}
	if result.EventsDeleted != 1 {
		t.Errorf("EventsDeleted = %d, want 1", result.EventsDeleted)
	}
	if _, kept := store.snapshots[1]; !kept {
		t.Error("row exactly at the cutoff must be retained")
	}
	if _, kept := store.snapshots[3]; !kept {
		t.Error("recent row must be retained")
	}
	if _, gone := store.snapshots[2]; gone {
		t.Error("row older than the cutoff must be deleted")
	}
}

func TestPrune_MultipleBatchesTerminate(t *testing.T) {
	store := newFakeStore()
	horizon := time.Hour
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 25; i++ {
		store.snapshots[i] = now.Add(-2 * time.Hour)
	}

	p := New(store, horizon, 10, testLogger())
	p.now = func() time.Time { return now }

	result, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.SnapshotsDeleted != 25 {
		t.Errorf("SnapshotsDeleted = %d, want 25", result.SnapshotsDeleted)
	}
	if len(store.snapshots) != 0 {
		t.Errorf("%d eligible rows survived pruning", len(store.snapshots))
	}
	// 25 rows at batch size 10: batches of 10, 10, 5; the short batch ends
	// the loop without an extra empty select.
	if store.selectCalls != 3 {
		t.Errorf("select calls = %d, want 3", store.selectCalls)
	}
}

func TestPrune_NoEligibleRows(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.snapshots[1] = now

	p := New(store, time.Hour, 10, testLogger())
	p.now = func() time.Time { return now }

	result, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.SnapshotsDeleted != 0 || result.EventsDeleted != 0 {
		t.Errorf("deleted %d/%d rows, want none", result.SnapshotsDeleted, result.EventsDeleted)
	}
}
