package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hoardline/taskcore/internal/api/shared"
	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/task"
)

// CreateBatchRequest represents the request body for submitting a batch.
type CreateBatchRequest struct {
	Kind        string              `json:"kind"         validate:"required"`
	Items       []BatchItemRequest  `json:"items"        validate:"required,min=1,dive"`
	Config      json.RawMessage     `json:"config,omitempty"`
	RetryPolicy *RetryPolicyRequest `json:"retry_policy,omitempty"`
}

// BatchItemRequest identifies one domain object to include in a batch.
type BatchItemRequest struct {
	ItemID   string `json:"item_id"   validate:"required"`
	ItemType string `json:"item_type" validate:"required"`
}

// RetryPolicyRequest overrides the default retry policy for a batch.
type RetryPolicyRequest struct {
	MaxRetries    int   `json:"max_retries"    validate:"gte=0"`
	DelaysSeconds []int `json:"delays_seconds" validate:"required,min=1"`
}

// RetryResponse reports how many items a manual retry re-enqueued.
type RetryResponse struct {
	Retried int `json:"retried"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	orchestrator  *task.Orchestrator
	queueForKind  map[domain.TaskKind]string
	retryPolicies map[domain.TaskKind]domain.RetryPolicy
	validator     *validator.Validate
}

// NewTaskHandler creates a new TaskHandler. queueForKind maps each task
// kind to the queue its batches are bound to; retryPolicies carries the
// kind's configured retry policy, used when a batch does not supply its
// own.
func NewTaskHandler(
	orchestrator *task.Orchestrator,
	queueForKind map[domain.TaskKind]string,
	retryPolicies map[domain.TaskKind]domain.RetryPolicy,
) *TaskHandler {
	return &TaskHandler{
		orchestrator:  orchestrator,
		queueForKind:  queueForKind,
		retryPolicies: retryPolicies,
		validator:     validator.New(),
	}
}

// CreateBatch handles POST /tasks requests.
func (h *TaskHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	kind := domain.TaskKind(req.Kind)
	queueName, ok := h.queueForKind[kind]
	if !ok {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task kind")
		return
	}

	config, err := domain.ParseConfig(kind, req.Config)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task config", err)
		return
	}

	items := make([]task.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, task.BatchItem{ItemID: item.ItemID, ItemType: item.ItemType})
	}

	// Precedence: the batch's own policy, then the kind's configured
	// policy, then the domain default inside CreateBatch.
	var policy *domain.RetryPolicy
	if req.RetryPolicy != nil {
		p := req.RetryPolicy.toDomain()
		policy = &p
	} else if p, ok := h.retryPolicies[kind]; ok {
		policy = &p
	}

	created, err := h.orchestrator.CreateBatch(r.Context(), kind, queueName, config, items, policy)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// Processing happens asynchronously, hence 202.
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(created))
}

// GetTask handles GET /tasks/{id} requests. The include_items query
// parameter adds the per-item breakdown to the response.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	found, err := h.orchestrator.GetTask(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := taskToResponse(found)

	if r.URL.Query().Get("include_items") == "true" {
		items, err := h.orchestrator.GetTaskItems(r.Context(), taskID)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		response.Items = make([]TaskItemResponse, 0, len(items))
		for _, item := range items {
			response.Items = append(response.Items, itemToResponse(item))
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// CancelTask handles POST /tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	cancelled, err := h.orchestrator.Cancel(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(cancelled))
}

// RetryTask handles POST /tasks/{id}/retry requests.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	retried, err := h.orchestrator.RetryFailed(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, RetryResponse{Retried: retried})
}

// DeleteTask handles DELETE /tasks/{id} requests. By default this
// cancels the task; with ?purge=true the task and its items are removed
// permanently, which is only allowed once the task is terminal.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("purge") != "true" {
		cancelled, err := h.orchestrator.Cancel(r.Context(), taskID)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(cancelled))
		return
	}

	if err := h.orchestrator.DeleteTask(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// taskIDFromRequest parses the {id} URL parameter, responding with 400 on
// malformed IDs.
func (h *TaskHandler) taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}

// toDomain converts the request policy into the domain representation.
func (p RetryPolicyRequest) toDomain() domain.RetryPolicy {
	policy := domain.RetryPolicy{MaxRetries: p.MaxRetries}
	for _, seconds := range p.DelaysSeconds {
		policy.Delays = append(policy.Delays, time.Duration(seconds)*time.Second)
	}
	return policy
}

// SanitizeValidationError removes sensitive details from validation
// errors and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fieldErr := validationErrs[0]
		return "Invalid " + fieldErr.Field() + ": failed on '" + fieldErr.Tag() + "'"
	}
	return "Validation error"
}
