// Package orchestrator implements the single-threaded control loop that
// drives a fixed team of workers toward completing an open-ended task.
// One orchestrator instance serves many runs; all mutable run state lives
// on a per-run session. The loop alternates structured assessment queries
// against the completion oracle with delegation to exactly one worker per
// turn, detects stagnation over a sliding window of checkpoints, and
// escalates through educated guesses and wholesale re-planning.
package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// TerminateSignal is the sentinel emitted when a run ends on its own terms.
const TerminateSignal = "TERMINATE"

// Outcome says how a run ended.
type Outcome string

const (
	// OutcomeSatisfied means the oracle judged the request fully satisfied.
	OutcomeSatisfied Outcome = "satisfied"
	// OutcomeEducatedGuess means progress stalled but the fact sheet held
	// enough congruent information to answer anyway.
	OutcomeEducatedGuess Outcome = "educated_guess"
	// OutcomeTurnBudgetExhausted means the turn budget ran out before the
	// request was satisfied. This is not a success.
	OutcomeTurnBudgetExhausted Outcome = "turn_budget_exhausted"
)

// Success reports whether the outcome counts as a successful termination.
func (o Outcome) Success() bool {
	return o == OutcomeSatisfied || o == OutcomeEducatedGuess
}

// Result is what a completed run returns.
type Result struct {
	Outcome      Outcome
	Signal       string // TerminateSignal for every self-terminated run.
	Turns        int
	TimesStalled int
	Plan         string // Plan in force at termination.
	Facts        string // Fact sheet at termination.
}

// Checkpoint is the per-turn progress snapshot used for stagnation
// detection. The in-session log clears on a full re-plan; persisted
// checkpoint records are append-only and never clear.
type Checkpoint struct {
	Plan        string
	Evaluation  int // 1..100
	Instruction string
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is the persisted unit of orchestration work.
type Run struct {
	ID           uuid.UUID
	Task         string // The original user request.
	Status       RunStatus
	Outcome      Outcome // Set when Status is RunCompleted.
	Turns        int
	TimesStalled int
	Plan         string
	Facts        string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// CheckpointRecord is the persisted audit form of a checkpoint.
type CheckpointRecord struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Turn        int
	Plan        string
	Evaluation  int
	Instruction string
	CreatedAt   time.Time
}

// MessageRecord is a persisted transcript entry: the orchestrator's
// briefings and instructions plus worker replies.
type MessageRecord struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	Role      string // "user" or "assistant" from the orchestrator's view.
	Speaker   string // Roster name, or the orchestrator's name.
	Content   string
	Visible   bool // Addressed out loud vs. delivered silently.
	CreatedAt time.Time
}
