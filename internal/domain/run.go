package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run — bulk рассылка flow по подписчикам нескольких страниц.
//
// Run создаётся снаружи в статусе queued и дальше меняется только
// планировщиком (и воркером для побочных эффектов деактивации).
type Run struct {
	// ID — идентификатор message_runs.
	ID int64 `json:"id"`

	// UserID — владелец run.
	UserID string `json:"user_id"`

	// FlowID — выполняемый flow.
	FlowID uuid.UUID `json:"flow_id"`

	// PageIDs — страницы, подписчикам которых идёт рассылка.
	PageIDs []string `json:"page_ids"`

	Status RunStatus `json:"status"`

	// StartAt — самое раннее время запуска. Nil — сразу.
	StartAt *time.Time `json:"start_at,omitempty"`

	// NextStepID — узел, с которого продолжится обход.
	NextStepID string `json:"next_step_id,omitempty"`

	// NextStepAt — время пробуждения. Заполнено только в статусе waiting.
	NextStepAt *time.Time `json:"next_step_at,omitempty"`

	// LastStepID — последний узел, породивший сообщение.
	LastStepID string `json:"last_step_id,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorSummary — причина перехода в failed.
	ErrorSummary json.RawMessage `json:"error_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerRun — выполнение flow для одного получателя.
type TriggerRun struct {
	ID        int64 `json:"id"`
	TriggerID int64 `json:"trigger_id,omitempty"`

	// OwnerUserID — владелец страницы.
	OwnerUserID string `json:"owner_user_id"`

	// RecipientUserID — единственный получатель.
	RecipientUserID string `json:"recipient_user_id"`

	PageID string    `json:"page_id"`
	FlowID uuid.UUID `json:"flow_id"`
	Status RunStatus `json:"status"`

	StartAt     *time.Time `json:"start_at,omitempty"`
	NextStepID  string     `json:"next_step_id,omitempty"`
	NextStepAt  *time.Time `json:"next_step_at,omitempty"`
	LastStepID  string     `json:"last_step_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorDetails — причина failed или cancelled.
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress — новое состояние run после обхода flow.
type Progress struct {
	Status      RunStatus
	NextStepID  string
	NextStepAt  *time.Time
	LastStepID  string
	CompletedAt *time.Time
}

// ProgressFrom переводит результат обхода в состояние run:
// завершён → finished, есть время пробуждения → waiting, иначе → running.
func ProgressFrom(nextStepID string, nextStepAt *time.Time, lastStepID string, complete bool, now time.Time) Progress {
	switch {
	case complete:
		return Progress{
			Status:      RunStatusFinished,
			LastStepID:  lastStepID,
			CompletedAt: &now,
		}
	case nextStepAt != nil:
		return Progress{
			Status:     RunStatusWaiting,
			NextStepID: nextStepID,
			NextStepAt: nextStepAt,
			LastStepID: lastStepID,
		}
	default:
		return Progress{
			Status:     RunStatusRunning,
			NextStepID: nextStepID,
			LastStepID: lastStepID,
		}
	}
}

// RunSummary — сводка по исходам доставки run.
type RunSummary struct {
	ID      int64               `json:"id"`
	Kind    JobKind             `json:"kind"`
	Status  RunStatus           `json:"status"`
	Counts  map[LogStatus]int64 `json:"counts"`
	Total   int64               `json:"total"`
	Details json.RawMessage     `json:"error,omitempty"`
}
