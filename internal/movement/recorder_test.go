package movement_test

import (
	"context"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/movement"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

func propGame(id string) models.GameOdds {
	return models.GameOdds{
		GameID:   id,
		AwayTeam: "Boston Celtics",
		HomeTeam: "Los Angeles Lakers",
		Props: map[string]map[string]map[string][]models.PropEntry{
			"fanduel": {
				"Jayson Tatum": {
					"pts": {
						{Line: 27.5, Over: "-110", Under: "-110"},
						{Line: 32.5, Over: "+150", Under: "-190"}, // alternate, not tracked
					},
					"reb": {
						{Line: 8.5, Over: "-115", Under: "-105"},
					},
				},
			},
			"prizepicks": {
				"Jayson Tatum": {
					// One-sided fixed-payout entry: no under price, excluded.
					"pts": {
						{Line: 29.5, Over: "-120", Under: models.PriceUnavailable, IsFixedPayout: true},
					},
				},
			},
		},
	}
}

func TestFlatten_OneSnapshotPerTrackedTuple(t *testing.T) {
	now := time.Now().UTC()
	snapshots := movement.Flatten([]models.GameOdds{propGame("g1")}, now)

	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots (pts + reb), got %d", len(snapshots))
	}

	byKey := make(map[string]models.Snapshot)
	for _, s := range snapshots {
		byKey[s.CompositeKey] = s
	}

	pts, ok := byKey[models.CompositeKey("g1", "Jayson Tatum", "pts", "fanduel")]
	if !ok {
		t.Fatal("missing pts snapshot")
	}
	if pts.Line != 27.5 {
		t.Errorf("pts snapshot Line = %v, want the main line 27.5", pts.Line)
	}
	if !pts.ObservedAt.Equal(now) {
		t.Errorf("ObservedAt = %v, want %v", pts.ObservedAt, now)
	}

	if _, tracked := byKey[models.CompositeKey("g1", "Jayson Tatum", "pts", "prizepicks")]; tracked {
		t.Error("one-sided entry must not produce a snapshot")
	}
}

func TestRecorder_ChunkFailureDoesNotAbort(t *testing.T) {
	store := newFakeStore()
	store.insertFailures = 1

	// Chunk size 1 so the two snapshots go in separate inserts.
	r := movement.NewRecorder(store, 1, testLogger())

	snapshots, err := r.Record(context.Background(), []models.GameOdds{propGame("g1")}, time.Now().UTC())
	if err == nil {
		t.Fatal("expected the chunk failure to be surfaced")
	}

	if len(snapshots) != 2 {
		t.Errorf("Record returned %d snapshots, want the full flattened set of 2", len(snapshots))
	}
	if len(store.snapshots) != 1 {
		t.Errorf("store has %d snapshots, want 1 (the surviving chunk)", len(store.snapshots))
	}
	if store.insertCalls != 2 {
		t.Errorf("insert calls = %d, want 2 (failure must not stop later chunks)", store.insertCalls)
	}
}

func TestRecorder_ZeroChunkSizeStillRecords(t *testing.T) {
	store := newFakeStore()
	r := movement.NewRecorder(store, 0, testLogger())

	snapshots, err := r.Record(context.Background(), []models.GameOdds{propGame("g1")}, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("Record returned %d snapshots, want 2", len(snapshots))
	}
	if len(store.snapshots) != 2 {
		t.Errorf("store has %d snapshots, want 2", len(store.snapshots))
	}
}

func TestRecorder_EmptyDatasetIsNoop(t *testing.T) {
	store := newFakeStore()
	r := movement.NewRecorder(store, 500, testLogger())

	snapshots, err := r.Record(context.Background(), nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshots != nil {
		t.Errorf("expected no snapshots, got %d", len(snapshots))
	}
	if store.insertCalls != 0 {
		t.Errorf("insert calls = %d, want 0", store.insertCalls)
	}
}
