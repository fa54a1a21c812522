package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements RunStore using in-memory maps. Used when no
// database is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]*Run
	checkpoints map[uuid.UUID]*CheckpointRecord
	messages    map[uuid.UUID]*MessageRecord
}

// NewInMemoryStore creates an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:        make(map[uuid.UUID]*Run),
		checkpoints: make(map[uuid.UUID]*CheckpointRecord),
		messages:    make(map[uuid.UUID]*MessageRecord),
	}
}

func (s *InMemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s not found", run.ID)
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (s *InMemoryStore) ListRuns(_ context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Run
	for _, r := range s.runs {
		cp := *r
		result = append(result, cp)
	}
	// Newest first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) SaveCheckpoint(_ context.Context, cp *CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints[cp.ID] = &c
	return nil
}

func (s *InMemoryStore) ListCheckpoints(_ context.Context, runID uuid.UUID) ([]CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []CheckpointRecord
	for _, c := range s.checkpoints {
		if c.RunID == runID {
			cp := *c
			result = append(result, cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Turn < result[j].Turn
	})
	return result, nil
}

func (s *InMemoryStore) SaveMessage(_ context.Context, msg *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, runID uuid.UUID) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []MessageRecord
	for _, m := range s.messages {
		if m.RunID == runID {
			cp := *m
			result = append(result, cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Compile-time check.
var _ RunStore = (*InMemoryStore)(nil)
