package api

import (
	"net/http"

	"github.com/shaiso/Relay/internal/telemetry"
)

// QueueStats возвращает глубину очередей jobs.
// GET /stats/queue
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, stats)
}

// HTTPClientStats — статистика клиента провайдера.
// GET /stats/http-client
func (h *Handler) HTTPClientStats(w http.ResponseWriter, r *http.Request) {
	Success(w, h.client.Stats())
}

// CircuitBreakerStats — настройки breaker и все отслеживаемые circuits.
// GET /stats/circuit-breaker
func (h *Handler) CircuitBreakerStats(w http.ResponseWriter, r *http.Request) {
	enabled, threshold, timeout := h.circuits.Settings()
	Success(w, CircuitBreakerResponse{
		Enabled:   enabled,
		Threshold: threshold,
		TimeoutMS: timeout.Milliseconds(),
		Circuits:  h.circuits.States(),
	})
}

// ResetCircuit вручную закрывает circuit страницы.
// POST /circuit-breaker/reset/{pageId}
func (h *Handler) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageId")

	if !h.circuits.Reset(pageID) {
		NotFound(w, "no circuit found for this page")
		return
	}

	telemetry.FromContext(r.Context()).Info("circuit reset via api", "page_id", pageID)
	Success(w, ResetResponse{PageID: pageID, Message: "circuit breaker reset"})
}

// LogWriterStats — заполнение буфера log writer.
// GET /stats/log-writer
func (h *Handler) LogWriterStats(w http.ResponseWriter, r *http.Request) {
	Success(w, h.logWriter.Stats())
}

// RateLimitStats — заполнение окна страницы.
// GET /stats/rate-limit/{pageId}
func (h *Handler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.rateLimits.Stats(r.Context(), r.PathValue("pageId"))
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, stats)
}

// ResetRateLimit очищает окно страницы.
// POST /rate-limit/reset/{pageId}
func (h *Handler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageId")

	if err := h.rateLimits.Reset(r.Context(), pageID); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	telemetry.FromContext(r.Context()).Info("rate limit reset via api", "page_id", pageID)
	Success(w, ResetResponse{PageID: pageID, Message: "rate limit reset"})
}

// Performance собирает сводку по всем доступным компонентам.
// Ошибка одного источника не мешает остальным.
// GET /stats/performance
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	resp := PerformanceResponse{Timestamp: h.now().UTC()}

	if h.queue != nil {
		stats, err := h.queue.Stats(r.Context())
		if err != nil {
			h.logger.Warn("queue stats unavailable", "error", err)
			resp.Errors = map[string]string{"queue": err.Error()}
		} else {
			resp.Queue = stats
		}
	}

	if h.client != nil {
		s := h.client.Stats()
		resp.HTTPClient = &HTTPClientSummary{
			TotalRequests: s.TotalRequests,
			Succeeded:     s.Succeeded,
			Failed:        s.Failed,
			AvgDurationMS: s.AvgDurationMS,
		}
	}

	if h.logWriter != nil {
		s := h.logWriter.Stats()
		resp.LogWriter = &LogWriterSummary{
			Buffered:       s.BufferedLogs,
			FillPercentage: s.FillPercentage,
		}
	}

	if h.circuits != nil {
		states := h.circuits.States()
		summary := &CircuitSummary{TotalCircuits: len(states)}
		for _, s := range states {
			if s.IsOpen {
				summary.OpenCircuits++
			}
		}
		resp.CircuitBreaker = summary
	}

	Success(w, resp)
}
