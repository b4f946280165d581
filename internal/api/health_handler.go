package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Health — процесс жив.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	Success(w, HealthResponse{
		Status:    "healthy",
		Service:   h.service,
		Timestamp: h.now().UTC(),
	})
}

// HealthDetailed дополнительно проверяет соединение с БД.
// GET /health/detailed
func (h *Handler) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Service:   h.service,
		Timestamp: h.now().UTC(),
		Database:  "connected",
	}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		JSON(w, http.StatusServiceUnavailable, DataResponse{Data: resp})
		return
	}

	Success(w, resp)
}
