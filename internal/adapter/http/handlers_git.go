package http

import (
	"log/slog"
	"net/http"

	"github.com/askluigi/agentd/internal/middleware"
)

// GitStatus reports the working tree state for the drawer's git panel.
func (h *Handlers) GitStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.git.Status(r.Context())
	if err != nil {
		writeDomainError(w, err, "git status failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type branchRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// CreateBranch commits the agent's work on a fresh timestamped branch.
func (h *Handlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[branchRequest](w, r)
	if !ok {
		return
	}

	res, err := h.git.CreateBranchAndCommit(r.Context(), req.Prompt)
	if err != nil {
		writeDomainError(w, err, "branch failed")
		return
	}

	if req.SessionID != "" {
		userID := middleware.UserIDFromContext(r.Context())
		if err := h.sessions.SetBranch(r.Context(), req.SessionID, userID, res.Branch); err != nil {
			slog.ErrorContext(r.Context(), "recording branch on session", "session_id", req.SessionID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type deployRequest struct {
	Branch    string `json:"branch"`
	SessionID string `json:"session_id,omitempty"`
}

// Deploy merges the given branch into main. On success the agent thread
// is reset: the merged tree no longer matches the old conversation.
func (h *Handlers) Deploy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[deployRequest](w, r)
	if !ok {
		return
	}

	target, err := h.git.DeployToMain(r.Context(), req.Branch)
	if err != nil {
		writeDomainError(w, err, "deploy failed")
		return
	}
	h.runner.ResetThread(r.Context())

	if req.SessionID != "" {
		userID := middleware.UserIDFromContext(r.Context())
		if err := h.sessions.MarkDeployed(r.Context(), req.SessionID, userID); err != nil {
			slog.ErrorContext(r.Context(), "marking session deployed", "session_id", req.SessionID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merged": true,
		"target": target,
	})
}
