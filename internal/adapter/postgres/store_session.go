package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/askluigi/agentd/internal/domain/session"
)

const sessionColumns = `id, user_id, COALESCE(thread_id, ''), prompts, file_changes,
       COALESCE(branch_name, ''), deployed, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	promptsJSON, err := json.Marshal(sess.Prompts)
	if err != nil {
		return fmt.Errorf("marshal prompts: %w", err)
	}
	changesJSON, err := json.Marshal(sess.FileChanges)
	if err != nil {
		return fmt.Errorf("marshal file_changes: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, user_id, thread_id, prompts, file_changes, branch_name, deployed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		sess.ID, sess.UserID, nullIfEmpty(sess.ThreadID), promptsJSON, changesJSON,
		nullIfEmpty(sess.BranchName), sess.Deployed,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) GetSessionForUser(ctx context.Context, id, userID string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)

	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return &sess, nil
}

// AppendPrompt pushes one prompt onto the session's history atomically.
func (s *Store) AppendPrompt(ctx context.Context, id string, p session.Prompt) error {
	promptJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET prompts = prompts || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, promptJSON)
	return execExpectOne(tag, err, "append prompt to session %s", id)
}

// MergeFileChanges folds incoming changes into the stored list, keyed by
// path with the last status winning. The merge runs read-modify-write in
// a transaction with the row locked.
func (s *Store) MergeFileChanges(ctx context.Context, id string, changes []session.FileChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var existingJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT file_changes FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&existingJSON)
	if err != nil {
		return notFoundWrap(err, "merge file changes for session %s", id)
	}

	var existing []session.FileChange
	if err := json.Unmarshal(existingJSON, &existing); err != nil {
		return fmt.Errorf("unmarshal file_changes: %w", err)
	}

	mergedJSON, err := json.Marshal(session.MergeFileChanges(existing, changes))
	if err != nil {
		return fmt.Errorf("marshal file_changes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET file_changes = $2, updated_at = now() WHERE id = $1`,
		id, mergedJSON); err != nil {
		return fmt.Errorf("update file_changes: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) SetThreadID(ctx context.Context, id, threadID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET thread_id = $2, updated_at = now() WHERE id = $1`,
		id, nullIfEmpty(threadID))
	return execExpectOne(tag, err, "set thread for session %s", id)
}

func (s *Store) SetBranchName(ctx context.Context, id, branch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET branch_name = $2, updated_at = now() WHERE id = $1`,
		id, nullIfEmpty(branch))
	return execExpectOne(tag, err, "set branch for session %s", id)
}

func (s *Store) MarkDeployed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET deployed = true, updated_at = now() WHERE id = $1`, id)
	return execExpectOne(tag, err, "mark session %s deployed", id)
}

func scanSession(row scannable) (session.Session, error) {
	var sess session.Session
	var promptsJSON, changesJSON []byte
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ThreadID, &promptsJSON, &changesJSON,
		&sess.BranchName, &sess.Deployed, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return sess, err
	}
	if err := json.Unmarshal(promptsJSON, &sess.Prompts); err != nil {
		return sess, fmt.Errorf("unmarshal prompts: %w", err)
	}
	if err := json.Unmarshal(changesJSON, &sess.FileChanges); err != nil {
		return sess, fmt.Errorf("unmarshal file_changes: %w", err)
	}
	return sess, nil
}
