package api

import (
	"net/http"
	"strconv"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/go-chi/chi/v5"
)

type walletResponse struct {
	WorkerID    string `json:"worker_id"`
	MealCredits int64  `json:"meal_credits"`
}

// RegisterWorkerHandler registers a worker. Workers may only register themselves.
func (h *Handlers) RegisterWorkerHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var req domain.RegisterWorkerInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "register_worker", err)
		return
	}
	if principal.Role == RoleWorker {
		if req.ID != "" && req.ID != principal.Subject {
			forbidden(w, "Workers can only register themselves")
			return
		}
		req.ID = principal.Subject
	}

	worker, err := h.engine.RegisterWorker(r.Context(), req)
	if err != nil {
		writeEngineError(w, "register_worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (h *Handlers) authorizeWorker(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, _ := GetPrincipal(r.Context())
	workerID := chi.URLParam(r, "id")
	if !principal.actsForWorker(workerID) {
		forbidden(w, "Cannot read another worker's wallet")
		return "", false
	}
	return workerID, true
}

func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.authorizeWorker(w, r)
	if !ok {
		return
	}
	wallet, err := h.engine.GetWallet(r.Context(), workerID)
	if err != nil {
		writeEngineError(w, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{WorkerID: workerID, MealCredits: wallet.MealCredits})
}

// GetLedgerHandler returns the worker's credit journal, oldest first.
func (h *Handlers) GetLedgerHandler(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.authorizeWorker(w, r)
	if !ok {
		return
	}
	entries, err := h.engine.ListLedger(r.Context(), workerID)
	if err != nil {
		writeEngineError(w, "get_ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) ReconcileWalletHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ReconcileWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "reconcile_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) RegisterOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterOrganizationInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "register_organization", err)
		return
	}
	org, err := h.engine.RegisterOrganization(r.Context(), req)
	if err != nil {
		writeEngineError(w, "register_organization", err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *Handlers) ListOrganizationsHandler(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.engine.ListOrganizations(r.Context())
	if err != nil {
		writeEngineError(w, "list_organizations", err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

// DashboardHandler serves the live projection, or a fresh snapshot when the
// projection is not running or ?fresh=true is passed.
func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	if h.projection != nil && !fresh {
		writeJSON(w, http.StatusOK, h.projection.Metrics())
		return
	}
	metrics, err := h.reporter.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
