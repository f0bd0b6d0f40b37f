/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client IP from proxy headers
  3. RequestLogger:  Structured request logging (httplog over slog)
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for frontend

SECURITY NOTE:
  Identity comes from the X-Employee-ID header with no authentication in
  front of it. Run behind a gateway that sets the header from a verified
  session.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if logger != nil {
		r.Use(httplog.RequestLogger(logger, &httplog.Options{
			Level:         slog.LevelInfo,
			Schema:        httplog.SchemaECS,
			RecoverPanics: true,
		}))
	} else {
		r.Use(middleware.Recoverer)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Employee-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateDraft)
			r.Get("/{id}", h.GetRequest)
			r.Delete("/{id}", h.DeleteDraft)
			r.Get("/{id}/approval", h.GetApproval)

			r.Post("/{id}/submit", h.SubmitRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/approve-conditional", h.ApproveConditional)
			r.Post("/{id}/condition-response", h.RespondToCondition)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/revoke", h.RevokeRequest)
			r.Post("/{id}/recall", h.RecallRequest)
			r.Post("/{id}/reopen", h.ReopenRequest)
		})

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/requests", h.ListRequests)
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.ListWorkflows)
			r.Post("/", h.CreateWorkflow)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/accruals", h.CreateAccrual)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/rollover", h.TriggerRollover)
		})
	})

	return r
}
