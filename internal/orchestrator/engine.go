package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bassmang/kiongozi/internal/events"
)

// EngineConfig holds engine-level defaults applied to incoming requests.
type EngineConfig struct {
	MaxTurns int
}

func (c EngineConfig) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return DefaultMaxTurns
}

// Engine implements RunEngine. It persists run state through a RunStore
// and executes each run's control loop in a background goroutine.
type Engine struct {
	store        RunStore
	orchestrator *Orchestrator
	broker       *events.Broker
	metrics      *Metrics
	logger       *slog.Logger
	config       EngineConfig

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc // Active run cancellation functions.
}

// NewEngine creates a run engine over a store and an orchestrator.
func NewEngine(
	store RunStore,
	orch *Orchestrator,
	metrics *Metrics,
	logger *slog.Logger,
	config EngineConfig,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:        store,
		orchestrator: orch,
		metrics:      metrics,
		logger:       logger,
		config:       config,
		cancels:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// WithBroker attaches an event broker for run lifecycle events.
func (e *Engine) WithBroker(broker *events.Broker) *Engine {
	e.broker = broker
	return e
}

func (e *Engine) Submit(ctx context.Context, req *RunRequest) (*Run, error) {
	now := time.Now().UTC()

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.config.maxTurns()
	}

	run := &Run{
		ID:        uuid.New(),
		Task:      req.Task,
		Status:    RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	run.Status = RunRunning
	run.UpdatedAt = now
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("updating run: %w", err)
	}

	if e.metrics != nil {
		e.metrics.ActiveRuns.Inc()
	}
	e.broker.Publish(events.Event{Type: events.RunStarted, RunID: run.ID.String(), Detail: req.Task})
	e.logger.InfoContext(ctx, "run submitted",
		slog.String("run_id", run.ID.String()),
		slog.String("task", req.Task),
		slog.Int("max_turns", maxTurns),
	)

	// The run outlives the submitting request; only explicit Cancel or
	// engine shutdown stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()

	// The goroutine below keeps mutating run; hand the caller a snapshot.
	snapshot := *run

	go func() {
		started := time.Now()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.cancels, run.ID)
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.ActiveRuns.Dec()
			}
		}()

		result, err := e.orchestrator.Run(runCtx, run.ID, run.Task, maxTurns)
		e.finish(run, result, err, time.Since(started))
	}()

	return &snapshot, nil
}

// finish records the terminal state of a run.
func (e *Engine) finish(run *Run, result *Result, err error, elapsed time.Duration) {
	// The run context is done by now; persistence gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	run.UpdatedAt = now
	run.CompletedAt = &now

	var label string
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		run.Status = RunCancelled
		run.Error = err.Error()
		label = "cancelled"
		e.broker.Publish(events.Event{Type: events.RunFailed, RunID: run.ID.String(), Detail: "cancelled"})
		e.logger.Info("run cancelled", "run_id", run.ID)
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
		label = "failed"
		e.broker.Publish(events.Event{Type: events.RunFailed, RunID: run.ID.String(), Detail: err.Error()})
		e.logger.Error("run failed", "run_id", run.ID, "error", err)
	default:
		run.Status = RunCompleted
		run.Outcome = result.Outcome
		run.Turns = result.Turns
		run.TimesStalled = result.TimesStalled
		run.Plan = result.Plan
		run.Facts = result.Facts
		label = string(result.Outcome)
		e.broker.Publish(events.Event{Type: events.RunFinished, RunID: run.ID.String(),
			Turn: result.Turns, Detail: string(result.Outcome)})
		e.logger.Info("run finished", "run_id", run.ID,
			"outcome", result.Outcome, "turns", result.Turns, "times_stalled", result.TimesStalled)
	}

	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(label).Inc()
		e.metrics.RunDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		e.logger.Error("persisting run result", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) Status(ctx context.Context, runID uuid.UUID) (*Run, error) {
	return e.store.GetRun(ctx, runID)
}

func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()

	if !ok {
		// Run may have already completed.
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("run not found: %w", err)
		}
		if run.Status == RunRunning {
			return fmt.Errorf("run %s is running but cancel function not found", runID)
		}
		return nil // Already finished.
	}

	cancel()
	e.logger.InfoContext(ctx, "run cancellation requested",
		slog.String("run_id", runID.String()),
	)
	return nil
}

func (e *Engine) List(ctx context.Context) ([]Run, error) {
	return e.store.ListRuns(ctx)
}

func (e *Engine) ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]CheckpointRecord, error) {
	return e.store.ListCheckpoints(ctx, runID)
}

func (e *Engine) ListMessages(ctx context.Context, runID uuid.UUID) ([]MessageRecord, error) {
	return e.store.ListMessages(ctx, runID)
}

// Compile-time check.
var _ RunEngine = (*Engine)(nil)
