package postgres

import (
	"time"

	"github.com/google/uuid"
)

// RunModel maps to the "runs" table.
type RunModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Task         string    `gorm:"type:text;not null"`
	Status       string    `gorm:"not null;index"`
	Outcome      string
	Turns        int
	TimesStalled int
	Plan         string `gorm:"type:text"`
	Facts        string `gorm:"type:text"`
	Error        string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

func (RunModel) TableName() string { return "runs" }

// CheckpointModel maps to the "run_checkpoints" table. Records are
// append-only: the audit trail survives in-session checkpoint clears.
type CheckpointModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Turn        int       `gorm:"not null"`
	Plan        string    `gorm:"type:text"`
	Evaluation  int       `gorm:"not null"`
	Instruction string    `gorm:"type:text"`
	CreatedAt   time.Time
}

func (CheckpointModel) TableName() string { return "run_checkpoints" }

// MessageModel maps to the "run_messages" table.
type MessageModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Role      string    `gorm:"not null"`
	Speaker   string    `gorm:"not null"`
	Content   string    `gorm:"type:text"`
	Visible   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (MessageModel) TableName() string { return "run_messages" }
