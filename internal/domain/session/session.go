// Package session defines the persisted agent session record.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is one entry in a session's ordered prompt history.
type Prompt struct {
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// FileChange is one entry in a session's merged file-change history.
type FileChange struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Session is the durable record of one agent drawer session. It outlives
// individual runs and is never deleted by this service.
type Session struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Prompts     []Prompt     `json:"prompts"`
	FileChanges []FileChange `json:"file_changes"`
	BranchName  string       `json:"branch_name,omitempty"`
	Deployed    bool         `json:"deployed"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// New creates an empty session owned by userID.
func New(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Prompts:     []Prompt{},
		FileChanges: []FileChange{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MergeFileChanges folds incoming changes into existing ones, keyed by
// path with the last status winning. First-seen path order is preserved
// so the drawer's change list stays stable across runs.
func MergeFileChanges(existing, incoming []FileChange) []FileChange {
	merged := make([]FileChange, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, fc := range merged {
		index[fc.Path] = i
	}

	for _, fc := range incoming {
		if i, ok := index[fc.Path]; ok {
			merged[i].Status = fc.Status
			continue
		}
		index[fc.Path] = len(merged)
		merged = append(merged, fc)
	}
	return merged
}
