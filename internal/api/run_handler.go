package api

import (
	"net/http"
	"strconv"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// RunSummary возвращает статус bulk run и число логов по статусам.
// GET /api/v1/runs/{id}/summary
func (h *Handler) RunSummary(w http.ResponseWriter, r *http.Request) {
	h.summary(w, r, domain.JobKindRun)
}

// TriggerRunSummary — то же для trigger run.
// GET /api/v1/trigger-runs/{id}/summary
func (h *Handler) TriggerRunSummary(w http.ResponseWriter, r *http.Request) {
	h.summary(w, r, domain.JobKindTrigger)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	s, err := h.summaries.Summary(r.Context(), kind, id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, s)
}

// PurgeRunJobs отмечает jobs bulk run для удаления: воркеры подтвердят
// их без отправки.
// DELETE /api/v1/admin/jobs/runs/{id}
func (h *Handler) PurgeRunJobs(w http.ResponseWriter, r *http.Request) {
	h.purge(w, r, domain.JobKindRun)
}

// PurgeTriggerRunJobs — то же для trigger run.
// DELETE /api/v1/admin/jobs/trigger-runs/{id}
func (h *Handler) PurgeTriggerRunJobs(w http.ResponseWriter, r *http.Request) {
	h.purge(w, r, domain.JobKindTrigger)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	if err := h.purger.Mark(r.Context(), kind, id); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	telemetry.FromContext(r.Context()).Info("jobs purged via api", "kind", kind, "run_id", id)
	Success(w, PurgeResponse{Kind: kind, RunID: id, Message: "queued jobs will be dropped"})
}

// parseRunID читает положительный {id} из пути. При ошибке отвечает 400.
func parseRunID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid run id")
		return 0, false
	}
	return id, true
}
