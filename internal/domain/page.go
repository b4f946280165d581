package domain

import "time"

// Page — страница-отправитель с credential.
type Page struct {
	PageID       string     `json:"page_id"`
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Subscriber — активный получатель страницы.
type Subscriber struct {
	PageID string `json:"page_id"`
	UserID string `json:"user_id"`
}

// LogEntry — итог доставки, буферизуется и пишется пачкой в message_logs.
type LogEntry struct {
	RunID        *int64     `json:"run_id,omitempty"`
	TriggerRunID *int64     `json:"trigger_run_id,omitempty"`
	PageID       string     `json:"page_id"`
	UserID       string     `json:"user_id"`
	Status       LogStatus  `json:"status"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}
