package api

import (
	"time"

	"github.com/shaiso/Relay/internal/circuit"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/mq"
)

// HealthResponse — ответ /health и /health/detailed.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CircuitBreakerResponse — настройки breaker и состояние circuits.
type CircuitBreakerResponse struct {
	Enabled   bool            `json:"enabled"`
	Threshold int             `json:"threshold"`
	TimeoutMS int64           `json:"timeout_ms"`
	Circuits  []circuit.State `json:"circuits"`
}

// ResetResponse — результат ручного сброса.
type ResetResponse struct {
	PageID  string `json:"page_id"`
	Message string `json:"message"`
}

// PurgeResponse — результат административного удаления jobs.
type PurgeResponse struct {
	Kind    domain.JobKind `json:"kind"`
	RunID   int64          `json:"run_id"`
	Message string         `json:"message"`
}

// PerformanceResponse — сводка по компонентам процесса.
// Разделы без соответствующей зависимости опускаются.
type PerformanceResponse struct {
	Timestamp      time.Time          `json:"timestamp"`
	Queue          *mq.Stats          `json:"queue,omitempty"`
	HTTPClient     *HTTPClientSummary `json:"http_client,omitempty"`
	LogWriter      *LogWriterSummary  `json:"log_writer,omitempty"`
	CircuitBreaker *CircuitSummary    `json:"circuit_breaker,omitempty"`
	Errors         map[string]string  `json:"errors,omitempty"`
}

type HTTPClientSummary struct {
	TotalRequests int64   `json:"total_requests"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

type LogWriterSummary struct {
	Buffered       int     `json:"buffered"`
	FillPercentage float64 `json:"fill_percentage"`
}

type CircuitSummary struct {
	OpenCircuits  int `json:"open_circuits"`
	TotalCircuits int `json:"total_circuits"`
}
