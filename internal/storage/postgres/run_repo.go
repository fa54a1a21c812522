package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bassmang/kiongozi/internal/orchestrator"
)

// RunRepository implements orchestrator.RunStore with GORM.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *orchestrator.Run) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (r *RunRepository) UpdateRun(ctx context.Context, run *orchestrator.Run) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*orchestrator.Run, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return toRunDomain(&model), nil
}

func (r *RunRepository) ListRuns(ctx context.Context) ([]orchestrator.Run, error) {
	var models []RunModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]orchestrator.Run, len(models))
	for i := range models {
		runs[i] = *toRunDomain(&models[i])
	}
	return runs, nil
}

func (r *RunRepository) SaveCheckpoint(ctx context.Context, cp *orchestrator.CheckpointRecord) error {
	model := toCheckpointModel(cp)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (r *RunRepository) ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]orchestrator.CheckpointRecord, error) {
	var models []CheckpointModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("turn ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing checkpoints for run %s: %w", runID, err)
	}
	cps := make([]orchestrator.CheckpointRecord, len(models))
	for i := range models {
		cps[i] = *toCheckpointDomain(&models[i])
	}
	return cps, nil
}

func (r *RunRepository) SaveMessage(ctx context.Context, msg *orchestrator.MessageRecord) error {
	model := toMessageModel(msg)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

func (r *RunRepository) ListMessages(ctx context.Context, runID uuid.UUID) ([]orchestrator.MessageRecord, error) {
	var models []MessageModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing messages for run %s: %w", runID, err)
	}
	msgs := make([]orchestrator.MessageRecord, len(models))
	for i := range models {
		msgs[i] = *toMessageDomain(&models[i])
	}
	return msgs, nil
}

// Compile-time check.
var _ orchestrator.RunStore = (*RunRepository)(nil)
