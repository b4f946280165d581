package api

import (
	"net/http"
)

// RegisterRoutes регистрирует маршруты для переданных зависимостей.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Health
	handle("GET /health", h.Health)
	if h.db != nil {
		handle("GET /health/detailed", h.HealthDetailed)
	}

	// Stats
	if h.queue != nil {
		handle("GET /stats/queue", h.QueueStats)
	}
	if h.client != nil {
		handle("GET /stats/http-client", h.HTTPClientStats)
	}
	if h.circuits != nil {
		handle("GET /stats/circuit-breaker", h.CircuitBreakerStats)
		handle("POST /circuit-breaker/reset/{pageId}", h.ResetCircuit)
	}
	if h.logWriter != nil {
		handle("GET /stats/log-writer", h.LogWriterStats)
	}
	if h.rateLimits != nil {
		handle("GET /stats/rate-limit/{pageId}", h.RateLimitStats)
		handle("POST /rate-limit/reset/{pageId}", h.ResetRateLimit)
	}
	handle("GET /stats/performance", h.Performance)

	// Runs
	if h.summaries != nil {
		handle("GET /api/v1/runs/{id}/summary", h.RunSummary)
		handle("GET /api/v1/trigger-runs/{id}/summary", h.TriggerRunSummary)
	}

	// Admin
	if h.purger != nil {
		handle("DELETE /api/v1/admin/jobs/runs/{id}", h.PurgeRunJobs)
		handle("DELETE /api/v1/admin/jobs/trigger-runs/{id}", h.PurgeTriggerRunJobs)
	}
}
