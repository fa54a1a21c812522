package postgres

import (
	"github.com/bassmang/kiongozi/internal/orchestrator"
)

func toRunModel(run *orchestrator.Run) RunModel {
	return RunModel{
		ID:           run.ID,
		Task:         run.Task,
		Status:       string(run.Status),
		Outcome:      string(run.Outcome),
		Turns:        run.Turns,
		TimesStalled: run.TimesStalled,
		Plan:         run.Plan,
		Facts:        run.Facts,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func toRunDomain(m *RunModel) *orchestrator.Run {
	return &orchestrator.Run{
		ID:           m.ID,
		Task:         m.Task,
		Status:       orchestrator.RunStatus(m.Status),
		Outcome:      orchestrator.Outcome(m.Outcome),
		Turns:        m.Turns,
		TimesStalled: m.TimesStalled,
		Plan:         m.Plan,
		Facts:        m.Facts,
		Error:        m.Error,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}
}

func toCheckpointModel(cp *orchestrator.CheckpointRecord) CheckpointModel {
	return CheckpointModel{
		ID:          cp.ID,
		RunID:       cp.RunID,
		Turn:        cp.Turn,
		Plan:        cp.Plan,
		Evaluation:  cp.Evaluation,
		Instruction: cp.Instruction,
		CreatedAt:   cp.CreatedAt,
	}
}

func toCheckpointDomain(m *CheckpointModel) *orchestrator.CheckpointRecord {
	return &orchestrator.CheckpointRecord{
		ID:          m.ID,
		RunID:       m.RunID,
		Turn:        m.Turn,
		Plan:        m.Plan,
		Evaluation:  m.Evaluation,
		Instruction: m.Instruction,
		CreatedAt:   m.CreatedAt,
	}
}

func toMessageModel(msg *orchestrator.MessageRecord) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		RunID:     msg.RunID,
		Role:      msg.Role,
		Speaker:   msg.Speaker,
		Content:   msg.Content,
		Visible:   msg.Visible,
		CreatedAt: msg.CreatedAt,
	}
}

func toMessageDomain(m *MessageModel) *orchestrator.MessageRecord {
	return &orchestrator.MessageRecord{
		ID:        m.ID,
		RunID:     m.RunID,
		Role:      m.Role,
		Speaker:   m.Speaker,
		Content:   m.Content,
		Visible:   m.Visible,
		CreatedAt: m.CreatedAt,
	}
}
