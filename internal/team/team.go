// Package team defines the worker abstraction and the fixed roster that the
// orchestrator coordinates. Workers keep their own conversational context;
// the orchestrator only ever addresses them through Receive and Reply.
package team

import (
	"context"
	"fmt"
	"strings"
)

// Worker is a member of the team. Execution capability is a property,
// not a subtype: any worker kind may declare it.
type Worker interface {
	// Name returns the worker's unique roster name.
	Name() string

	// Description returns the capability summary shown to the planner.
	Description() string

	// ExecutionCapable reports whether the worker can execute code handed
	// to it in fenced blocks.
	ExecutionCapable() bool

	// Reset clears the worker's conversational context.
	Reset(ctx context.Context) error

	// Receive records a message in the worker's context. The visible flag
	// marks whether the message is addressed to this worker out loud or
	// delivered silently for shared awareness.
	Receive(ctx context.Context, msg string, visible bool) error

	// Reply generates the worker's next utterance and records it in the
	// worker's own context before returning it.
	Reply(ctx context.Context) (string, error)
}

// Team is an immutable, ordered roster of workers with unique names.
type Team struct {
	workers []Worker
	byName  map[string]Worker
}

// New creates a team from the given workers. Names must be non-empty and
// unique; roster order is preserved.
func New(workers ...Worker) (*Team, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("team requires at least one worker")
	}
	byName := make(map[string]Worker, len(workers))
	for _, w := range workers {
		name := w.Name()
		if name == "" {
			return nil, fmt.Errorf("worker with empty name")
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate worker name %q", name)
		}
		byName[name] = w
	}
	return &Team{workers: workers, byName: byName}, nil
}

// Workers returns the roster in order.
func (t *Team) Workers() []Worker { return t.workers }

// Size returns the number of workers.
func (t *Team) Size() int { return len(t.workers) }

// Lookup returns the worker with the given name.
func (t *Team) Lookup(name string) (Worker, bool) {
	w, ok := t.byName[name]
	return w, ok
}

// FirstExecutor returns the first execution-capable worker in roster order.
func (t *Team) FirstExecutor() (Worker, bool) {
	for _, w := range t.workers {
		if w.ExecutionCapable() {
			return w, true
		}
	}
	return nil, false
}

// Roster renders the "Name: description" listing used in planning prompts.
func (t *Team) Roster() string {
	lines := make([]string, len(t.workers))
	for i, w := range t.workers {
		lines[i] = w.Name() + ": " + w.Description()
	}
	return strings.Join(lines, "\n")
}

// Names renders the comma-separated name list used in routing prompts.
func (t *Team) Names() string {
	names := make([]string, len(t.workers))
	for i, w := range t.workers {
		names[i] = w.Name()
	}
	return strings.Join(names, ", ")
}
