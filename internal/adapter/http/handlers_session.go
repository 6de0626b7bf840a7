package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/askluigi/agentd/internal/middleware"
)

// CreateSession starts a fresh drawer session for the current user.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sess, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "create session failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions returns the current user's sessions, newest first.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sessions, err := h.sessions.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "list sessions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GetSession returns one session, scoped to the current user.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
