/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, recovery, timeouts, CORS and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the router for the ledger API.
func NewRouter(h *Handlers, auth AuthConfig, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(auth))

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasksHandler)
			r.Get("/open", h.ListOpenTasksHandler)
			r.Get("/{id}", h.GetTaskHandler)
			r.With(RequireRole(RoleNGO, RoleAdmin)).Post("/", h.PostTaskHandler)
			r.With(RequireRole(RoleWorker, RoleAdmin)).Post("/{id}/claim", h.ClaimTaskHandler)
			r.With(RequireRole(RoleWorker, RoleAdmin)).Post("/{id}/proof", h.SubmitProofHandler)
			r.With(RequireRole(RoleNGO, RoleAdmin)).Post("/{id}/verify", h.VerifyTaskHandler)
			r.With(RequireRole(RoleNGO, RoleAdmin)).Post("/{id}/cancel", h.CancelTaskHandler)
		})

		r.Route("/redemptions", func(r chi.Router) {
			r.Get("/", h.ListRedemptionsHandler)
			r.Get("/{id}", h.GetRedemptionHandler)
			r.With(RequireRole(RoleWorker, RoleAdmin)).Post("/", h.RequestRedemptionHandler)
			r.With(RequireRole(RoleNGO, RoleAdmin)).Post("/{id}/complete", h.CompleteRedemptionHandler)
			r.With(RequireRole(RoleNGO, RoleAdmin)).Post("/{id}/reject", h.RejectRedemptionHandler)
		})

		r.Route("/workers", func(r chi.Router) {
			r.With(RequireRole(RoleWorker, RoleAdmin)).Post("/", h.RegisterWorkerHandler)
			r.Get("/{id}/wallet", h.GetWalletHandler)
			r.Get("/{id}/ledger", h.GetLedgerHandler)
			r.With(RequireRole(RoleAdmin)).Get("/{id}/reconcile", h.ReconcileWalletHandler)
		})

		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", h.ListOrganizationsHandler)
			r.With(RequireRole(RoleAdmin)).Post("/", h.RegisterOrganizationHandler)
		})

		r.With(RequireRole(RoleNGO, RoleAdmin)).Get("/dashboard", h.DashboardHandler)
	})

	return r
}
