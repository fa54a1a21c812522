package orchestrator

import (
	"context"

	"github.com/google/uuid"
)

// RunEngine is the public API for submitting and inspecting runs.
type RunEngine interface {
	// Submit creates a new run from a task and begins execution.
	Submit(ctx context.Context, req *RunRequest) (*Run, error)

	// Status returns the current state of a run.
	Status(ctx context.Context, runID uuid.UUID) (*Run, error)

	// Cancel requests cancellation of a running run.
	Cancel(ctx context.Context, runID uuid.UUID) error

	// List returns all known runs, newest first.
	List(ctx context.Context) ([]Run, error)

	// ListCheckpoints returns the persisted checkpoint audit trail.
	ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]CheckpointRecord, error)

	// ListMessages returns the persisted transcript for a run.
	ListMessages(ctx context.Context, runID uuid.UUID) ([]MessageRecord, error)
}

// RunRequest is the input to create a new run.
type RunRequest struct {
	Task     string
	MaxTurns int // 0 = engine default.
}

// RunStore persists runs, checkpoint records, and transcript messages.
// Implementations: in-memory, SQLite, or PostgreSQL.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)

	SaveCheckpoint(ctx context.Context, cp *CheckpointRecord) error
	ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]CheckpointRecord, error)

	SaveMessage(ctx context.Context, msg *MessageRecord) error
	ListMessages(ctx context.Context, runID uuid.UUID) ([]MessageRecord, error)
}
