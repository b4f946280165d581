package domain

// RunStatus — статус run и trigger run.
//
// Жизненный цикл:
//
//	queued → running → finished
//	           ↓  ↑  ↘ failed
//	         waiting  ↘ cancelled
//
// Переход queued → running выполняется условным UPDATE (claim),
// поэтому успешен ровно у одного планировщика.
type RunStatus string

const (
	// RunStatusQueued — run создан и ждёт start_at.
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning — run захвачен планировщиком.
	RunStatusRunning RunStatus = "running"

	// RunStatusWaiting — flow остановлен на wait узле до next_step_at.
	RunStatusWaiting RunStatus = "waiting"

	// RunStatusFinished — flow пройден до конца.
	RunStatusFinished RunStatus = "finished"

	// RunStatusFailed — ошибка продвижения flow. Автоматически не повторяется.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled — отмена как бизнес-исход (нет credential, получатель недоступен).
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// LogStatus — итог доставки одного job.
type LogStatus string

const (
	LogStatusSent        LogStatus = "sent"
	LogStatusFailed      LogStatus = "failed"
	LogStatusRateLimited LogStatus = "rate_limited"
	LogStatusAuthError   LogStatus = "auth_error"
)
