package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind — источник job.
type JobKind string

const (
	JobKindRun     JobKind = "run"
	JobKindTrigger JobKind = "trigger"
)

// Приоритеты очереди. Больше — раньше.
const (
	PriorityBulk    uint8 = 1
	PriorityTrigger uint8 = 9
)

// Job — доставка одного сообщения одному получателю.
//
// Job неизменяем после постановки в очередь: повторная попытка
// переотправляет тот же job с увеличенным Attempt.
type Job struct {
	ID uuid.UUID `json:"id"`

	Kind JobKind `json:"kind"`

	// RunID — message_runs.id или trigger_runs.id в зависимости от Kind.
	RunID int64 `json:"run_id"`

	// PageID — страница-отправитель. Ключ rate limiter и circuit breaker.
	PageID string `json:"page_id"`

	// UserID — получатель.
	UserID string `json:"user_id"`

	AccessToken string `json:"access_token"`

	FlowID uuid.UUID `json:"flow_id"`
	NodeID string    `json:"node_id,omitempty"`

	// Message — тело запроса к провайдеру без recipient.
	Message json.RawMessage `json:"message"`

	// MessageIndex — позиция сообщения в пачке одного обхода.
	MessageIndex int `json:"message_index"`

	// Delay — задержка до первой доставки.
	Delay time.Duration `json:"delay"`

	Priority uint8 `json:"priority"`

	// Attempt — номер попытки, начиная с 0.
	Attempt int `json:"attempt"`
}

// NewLogEntry создаёт запись лога для job.
func (j *Job) NewLogEntry(status LogStatus) LogEntry {
	e := LogEntry{
		PageID: j.PageID,
		UserID: j.UserID,
		Status: status,
	}
	id := j.RunID
	if j.Kind == JobKindTrigger {
		e.TriggerRunID = &id
	} else {
		e.RunID = &id
	}
	return e
}
