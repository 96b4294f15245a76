package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hoardline/taskcore/internal/api/shared"
	"github.com/hoardline/taskcore/internal/health"
	"github.com/hoardline/taskcore/internal/worker"
)

// OpsHandler handles the operational endpoints: worker and queue
// introspection, suspension, and the health check.
type OpsHandler struct {
	reporter *health.Reporter
	manager  *worker.Manager
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(reporter *health.Reporter, manager *worker.Manager) *OpsHandler {
	return &OpsHandler{
		reporter: reporter,
		manager:  manager,
	}
}

// ListWorkers handles GET /workers requests.
func (h *OpsHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.manager.ListWorkers()
	if workers == nil {
		workers = []worker.WorkerInfo{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, workers)
}

// ListQueues handles GET /queues requests.
func (h *OpsHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	report := h.reporter.Check(r.Context())
	queues := report.Queues
	if queues == nil {
		queues = []health.QueueStats{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, queues)
}

// SuspendQueue handles POST /queues/{name}/suspend requests.
func (h *OpsHandler) SuspendQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.manager.Suspend(name); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, "Unknown queue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeQueue handles POST /queues/{name}/resume requests.
func (h *OpsHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.manager.Resume(name); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, "Unknown queue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health requests. An unhealthy subsystem
// responds 503 so load balancers can act on it; degraded still responds
// 200 with the detail in the body.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := h.reporter.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	shared.RespondWithJSON(w, r, status, report)
}
