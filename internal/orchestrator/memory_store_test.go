package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInMemoryStoreRunLifecycle(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	run := &Run{ID: uuid.New(), Task: "t", Status: RunPending, CreatedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Error("duplicate CreateRun should fail")
	}

	run.Status = RunCompleted
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Returned copies are isolated from the store.
	got.Task = "mutated"
	again, _ := store.GetRun(ctx, run.ID)
	if again.Task != "t" {
		t.Error("GetRun must return a copy")
	}

	if err := store.UpdateRun(ctx, &Run{ID: uuid.New()}); err == nil {
		t.Error("UpdateRun of unknown run should fail")
	}
	if _, err := store.GetRun(ctx, uuid.New()); err == nil {
		t.Error("GetRun of unknown run should fail")
	}
}

func TestInMemoryStoreListRunsNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	old := &Run{ID: uuid.New(), Task: "old", CreatedAt: base.Add(-time.Hour)}
	recent := &Run{ID: uuid.New(), Task: "recent", CreatedAt: base}
	for _, r := range []*Run{old, recent} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Task != "recent" || runs[1].Task != "old" {
		t.Errorf("unexpected order: %+v", runs)
	}
}

func TestInMemoryStoreCheckpointsOrderedByTurn(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	runID := uuid.New()

	for _, turn := range []int{3, 1, 2} {
		cp := &CheckpointRecord{ID: uuid.New(), RunID: runID, Turn: turn, Evaluation: 10 * turn}
		if err := store.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	// Checkpoint for another run stays invisible.
	other := &CheckpointRecord{ID: uuid.New(), RunID: uuid.New(), Turn: 1}
	if err := store.SaveCheckpoint(ctx, other); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cps, err := store.ListCheckpoints(ctx, runID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(cps))
	}
	for i, cp := range cps {
		if cp.Turn != i+1 {
			t.Errorf("checkpoint %d has turn %d", i, cp.Turn)
		}
	}
}

func TestInMemoryStoreMessagesOrderedByTime(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	runID := uuid.New()
	base := time.Now().UTC()

	second := &MessageRecord{ID: uuid.New(), RunID: runID, Content: "second", CreatedAt: base.Add(time.Second)}
	first := &MessageRecord{ID: uuid.New(), RunID: runID, Content: "first", CreatedAt: base}
	for _, m := range []*MessageRecord{second, first} {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, runID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("unexpected order: %+v", msgs)
	}
}
