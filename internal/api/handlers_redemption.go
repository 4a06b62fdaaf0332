package api

import (
	"net/http"
	"strings"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/go-chi/chi/v5"
)

// RequestRedemptionHandler records the calling worker's intent to redeem credits.
func (h *Handlers) RequestRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var req domain.RedemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "request_redemption", err)
		return
	}
	if principal.Role == RoleWorker && req.WorkerID == "" {
		req.WorkerID = principal.Subject
	}
	if !principal.actsForWorker(req.WorkerID) {
		forbidden(w, "Workers can only redeem their own credits")
		return
	}

	redemption, err := h.engine.RequestRedemption(r.Context(), req)
	if err != nil {
		writeEngineError(w, "request_redemption", err)
		return
	}
	writeJSON(w, http.StatusCreated, redemption)
}

// ListRedemptionsHandler lists redemptions visible to the caller: workers see their
// own, NGO staff see their organization's, admins see all.
func (h *Handlers) ListRedemptionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	limit, err := parseLimit(r)
	if err != nil {
		writeEngineError(w, "list_redemptions", err)
		return
	}
	query := r.URL.Query()
	filter := store.RedemptionFilter{
		Status: domain.RedemptionStatus(strings.TrimSpace(query.Get("status"))),
		UserID: strings.TrimSpace(query.Get("user_id")),
		OrgID:  strings.TrimSpace(query.Get("org_id")),
		Limit:  limit,
	}
	switch principal.Role {
	case RoleWorker:
		filter.UserID = principal.Subject
	case RoleNGO:
		filter.OrgID = principal.OrgID
	}

	redemptions, err := h.engine.ListRedemptions(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "list_redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, redemptions)
}

func (h *Handlers) GetRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	redemption, err := h.engine.GetRedemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "get_redemption", err)
		return
	}
	if !principal.actsForWorker(redemption.UserID) && !principal.actsForOrg(redemption.OrgID) {
		forbidden(w, "Redemption belongs to another account")
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

type completeRedemptionRequest struct {
	WorkerID    string `json:"worker_id"`
	MealCredits int64  `json:"meal_credits"`
	ProofPhoto  string `json:"proof_photo"`
}

type rejectRedemptionRequest struct {
	Reason string `json:"reason"`
}

// authorizeRedemptionOrg loads the redemption and checks the caller acts for its organization.
func (h *Handlers) authorizeRedemptionOrg(w http.ResponseWriter, r *http.Request, endpoint string) (*domain.Redemption, bool) {
	principal, _ := GetPrincipal(r.Context())
	redemption, err := h.engine.GetRedemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, endpoint, err)
		return nil, false
	}
	if !principal.actsForOrg(redemption.OrgID) {
		forbidden(w, "Redemption belongs to another organization")
		return nil, false
	}
	return redemption, true
}

// CompleteRedemptionHandler confirms pickup and debits the worker. The body must
// repeat the worker and amount of the stored redemption.
func (h *Handlers) CompleteRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	redemption, ok := h.authorizeRedemptionOrg(w, r, "complete_redemption")
	if !ok {
		return
	}
	var req completeRedemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "complete_redemption", err)
		return
	}

	completed, err := h.engine.CompleteRedemptionWithProof(r.Context(), redemption.ID, strings.TrimSpace(req.WorkerID), req.MealCredits, req.ProofPhoto)
	if err != nil {
		writeEngineError(w, "complete_redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, completed)
}

func (h *Handlers) RejectRedemptionHandler(w http.ResponseWriter, r *http.Request) {
	redemption, ok := h.authorizeRedemptionOrg(w, r, "reject_redemption")
	if !ok {
		return
	}
	var req rejectRedemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "reject_redemption", err)
		return
	}

	rejected, err := h.engine.RejectRedemption(r.Context(), redemption.ID, req.Reason)
	if err != nil {
		writeEngineError(w, "reject_redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}
