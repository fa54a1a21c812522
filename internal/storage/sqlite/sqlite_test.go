package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bassmang/kiongozi/internal/orchestrator"
	"github.com/bassmang/kiongozi/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestDriver(t *testing.T) {
	store := openTestStore(t)
	if store.Driver() != storage.DriverSQLite {
		t.Errorf("driver = %q, want sqlite", store.Driver())
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := openTestStore(t)
	runs := store.Runs()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	run := &orchestrator.Run{
		ID:        uuid.New(),
		Task:      "count the ducks",
		Status:    orchestrator.RunRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := runs.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.Status = orchestrator.RunCompleted
	run.Outcome = orchestrator.OutcomeSatisfied
	run.Turns = 7
	run.Plan = "- count them"
	if err := runs.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := runs.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != orchestrator.RunCompleted || got.Outcome != orchestrator.OutcomeSatisfied {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.Turns != 7 || got.Plan != "- count them" {
		t.Errorf("unexpected run fields: %+v", got)
	}

	if _, err := runs.GetRun(ctx, uuid.New()); err == nil {
		t.Error("GetRun of unknown id should fail")
	}
}

func TestCheckpointAndMessagePersistence(t *testing.T) {
	store := openTestStore(t)
	runs := store.Runs()
	ctx := context.Background()
	runID := uuid.New()

	for turn := 1; turn <= 3; turn++ {
		cp := &orchestrator.CheckpointRecord{
			ID:         uuid.New(),
			RunID:      runID,
			Turn:       turn,
			Plan:       "plan",
			Evaluation: 30 + turn,
			CreatedAt:  time.Now().UTC(),
		}
		if err := runs.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	cps, err := runs.ListCheckpoints(ctx, runID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 3 || cps[0].Turn != 1 || cps[2].Evaluation != 33 {
		t.Errorf("unexpected checkpoints: %+v", cps)
	}

	msg := &orchestrator.MessageRecord{
		ID:        uuid.New(),
		RunID:     runID,
		Role:      "assistant",
		Speaker:   "Orchestrator",
		Content:   "Please count the ducks.",
		Visible:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := runs.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	msgs, err := runs.ListMessages(ctx, runID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Speaker != "Orchestrator" || !msgs[0].Visible {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
