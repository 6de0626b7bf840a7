package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/askluigi/agentd/internal/domain/agent"
	"github.com/askluigi/agentd/internal/domain/session"
	"github.com/askluigi/agentd/internal/middleware"
)

type runRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// RunAgent starts one agent run and streams its events over SSE.
// Validation failures are plain JSON errors before the stream opens;
// once streaming, the stream itself is the error channel.
func (h *Handlers) RunAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[runRequest](w, r)
	if !ok {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var changes []session.FileChange
	events := h.runner.Run(r.Context(), req.Prompt)
	streamEvents(w, r, events, func(ev agent.Event) {
		if ev.Type == agent.TypeFileChange {
			changes = append(changes, session.FileChange{Path: ev.Path, Status: ev.Status})
		}
	})

	if req.SessionID == "" {
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	err := h.sessions.RecordRun(r.Context(), req.SessionID, userID, req.Prompt, h.runner.ThreadID(), changes)
	if err != nil {
		slog.ErrorContext(r.Context(), "recording run on session", "session_id", req.SessionID, "error", err)
	}
}

// CancelRun requests cooperative cancellation of the in-progress run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	active, err := h.runner.Cancel(r.Context())
	if err != nil {
		writeDomainError(w, err, "cancel failed")
		return
	}

	// Cancellation is idempotent: acknowledged even when nothing is
	// running, with the message carrying the distinction.
	msg := "no run in progress"
	if active {
		msg = "cancellation requested"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"canceled": true,
		"message":  msg,
	})
}
