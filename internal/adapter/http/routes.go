package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/askluigi/agentd/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, authTokenHash string) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(authTokenHash))

		// Agent runs
		r.Post("/agent/run", h.RunAgent)
		r.Post("/agent/cancel", h.CancelRun)

		// Git coordination
		r.Get("/git/status", h.GitStatus)
		r.Post("/git/branch", h.CreateBranch)
		r.Post("/git/deploy", h.Deploy)

		// Sessions
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)

		// Orders
		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.CreateOrder)
	})
}
