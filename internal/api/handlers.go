/**
 * @description
 * HTTP handlers for the ledger API. Handlers parse requests, apply role checks that
 * depend on the target record, call the Engine and write the response. Every state
 * change goes through the Engine; handlers never touch the store.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain, internal/reporting: engine, models and dashboard reads.
 */

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Aayu095/Job4Meal/internal/app"
	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/reporting"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the engine and read models the handlers use.
type Handlers struct {
	engine     *app.Engine
	reporter   *reporting.Reporter
	projection *reporting.Projection
}

// NewHandlers creates the API handlers. projection may be nil, in which case the
// dashboard is always computed from the store.
func NewHandlers(engine *app.Engine, reporter *reporting.Reporter, projection *reporting.Projection) *Handlers {
	return &Handlers{engine: engine, reporter: reporter, projection: projection}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput)
	}
	return limit, nil
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}

// PostTaskHandler publishes a task for the caller's organization.
func (h *Handlers) PostTaskHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var req domain.PostTaskInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "post_task", err)
		return
	}
	if principal.Role == RoleNGO && strings.TrimSpace(req.OrgID) == "" {
		req.OrgID = principal.OrgID
	}
	if !principal.actsForOrg(strings.TrimSpace(req.OrgID)) {
		forbidden(w, "Cannot post tasks for another organization")
		return
	}

	task, err := h.engine.PostTask(r.Context(), req)
	if err != nil {
		writeEngineError(w, "post_task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ListTasksHandler lists tasks filtered by status, org_id and claimed_by.
func (h *Handlers) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeEngineError(w, "list_tasks", err)
		return
	}
	query := r.URL.Query()
	filter := store.TaskFilter{
		Status:    domain.TaskStatus(strings.TrimSpace(query.Get("status"))),
		OrgID:     strings.TrimSpace(query.Get("org_id")),
		ClaimedBy: strings.TrimSpace(query.Get("claimed_by")),
		Limit:     limit,
	}
	tasks, err := h.engine.ListTasks(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "list_tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListOpenTasksHandler lists tasks that can still be claimed.
func (h *Handlers) ListOpenTasksHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeEngineError(w, "list_open_tasks", err)
		return
	}
	tasks, err := h.engine.ListOpenTasks(r.Context(), limit)
	if err != nil {
		writeEngineError(w, "list_open_tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "get_task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type claimTaskRequest struct {
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name"`
}

// ClaimTaskHandler claims a task for the calling worker. Admins may claim on behalf of a worker.
func (h *Handlers) ClaimTaskHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var req claimTaskRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeEngineError(w, "claim_task", err)
			return
		}
	}
	workerID := principal.Subject
	if principal.Role == RoleAdmin {
		workerID = strings.TrimSpace(req.WorkerID)
	} else if req.WorkerID != "" && req.WorkerID != principal.Subject {
		forbidden(w, "Workers can only claim tasks for themselves")
		return
	}

	task, err := h.engine.ClaimTask(r.Context(), chi.URLParam(r, "id"), workerID, req.WorkerName)
	if err != nil {
		writeEngineError(w, "claim_task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// SubmitProofHandler attaches proof to a task claimed by the calling worker.
func (h *Handlers) SubmitProofHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var req domain.ProofInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "submit_proof", err)
		return
	}
	if principal.Role == RoleWorker {
		req.SubmittedBy = principal.Subject
	}

	task, err := h.engine.SubmitProof(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeEngineError(w, "submit_proof", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// authorizeTaskOrg loads the task and checks the caller acts for its organization.
func (h *Handlers) authorizeTaskOrg(w http.ResponseWriter, r *http.Request, endpoint string) (string, bool) {
	principal, _ := GetPrincipal(r.Context())
	taskID := chi.URLParam(r, "id")
	task, err := h.engine.GetTask(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, endpoint, err)
		return "", false
	}
	if !principal.actsForOrg(task.PostedByOrg) {
		forbidden(w, "Task belongs to another organization")
		return "", false
	}
	return taskID, true
}

// VerifyTaskHandler approves submitted proof and credits the claimant.
func (h *Handlers) VerifyTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.authorizeTaskOrg(w, r, "verify_task")
	if !ok {
		return
	}
	task, err := h.engine.VerifyTask(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, "verify_task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handlers) CancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.authorizeTaskOrg(w, r, "cancel_task")
	if !ok {
		return
	}
	task, err := h.engine.CancelTask(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, "cancel_task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
