package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/askluigi/agentd/internal/domain/session"
	"github.com/askluigi/agentd/internal/port/cache"
	"github.com/askluigi/agentd/internal/port/database"
)

// SessionService manages agent drawer sessions: the durable record of
// prompts, file changes, branch, and deploy state per user. Reads go
// through the L1 cache; every mutation invalidates.
type SessionService struct {
	store database.Store
	cache cache.Cache // optional
	ttl   time.Duration
}

// NewSessionService creates a SessionService. c may be nil to bypass caching.
func NewSessionService(store database.Store, c cache.Cache, ttl time.Duration) *SessionService {
	return &SessionService{store: store, cache: c, ttl: ttl}
}

// Create starts a fresh session for userID.
func (s *SessionService) Create(ctx context.Context, userID string) (*session.Session, error) {
	sess := session.New(userID)
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, userID)
	slog.DebugContext(ctx, "session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// List returns the user's sessions, newest first.
func (s *SessionService) List(ctx context.Context, userID string) ([]session.Session, error) {
	key := listKey(userID)
	if data, ok := s.cacheGet(ctx, key); ok {
		var sessions []session.Session
		if err := json.Unmarshal(data, &sessions); err == nil {
			return sessions, nil
		}
	}

	sessions, err := s.store.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, sessions)
	return sessions, nil
}

// Get returns one session, scoped to its owner.
func (s *SessionService) Get(ctx context.Context, id, userID string) (*session.Session, error) {
	key := sessionKey(id, userID)
	if data, ok := s.cacheGet(ctx, key); ok {
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err == nil {
			return &sess, nil
		}
	}

	sess, err := s.store.GetSessionForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, sess)
	return sess, nil
}

// RecordRun appends the prompt and merges the run's file changes into
// the session, and stores the backend thread id when one was assigned.
func (s *SessionService) RecordRun(ctx context.Context, id, userID, prompt, threadID string, changes []session.FileChange) error {
	sess, err := s.store.GetSessionForUser(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := s.store.AppendPrompt(ctx, sess.ID, session.Prompt{
		Prompt:    prompt,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := s.store.MergeFileChanges(ctx, sess.ID, changes); err != nil {
		return err
	}
	if threadID != "" && threadID != sess.ThreadID {
		if err := s.store.SetThreadID(ctx, sess.ID, threadID); err != nil {
			return err
		}
	}

	s.invalidate(ctx, sess.ID, userID)
	return nil
}

// SetBranch records the branch created for this session's changes.
func (s *SessionService) SetBranch(ctx context.Context, id, userID, branch string) error {
	sess, err := s.store.GetSessionForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetBranchName(ctx, sess.ID, branch); err != nil {
		return err
	}
	s.invalidate(ctx, sess.ID, userID)
	return nil
}

// MarkDeployed flags the session after its branch merged to main.
func (s *SessionService) MarkDeployed(ctx context.Context, id, userID string) error {
	sess, err := s.store.GetSessionForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.store.MarkDeployed(ctx, sess.ID); err != nil {
		return err
	}
	s.invalidate(ctx, sess.ID, userID)
	return nil
}

func listKey(userID string) string        { return "sessions:user:" + userID }
func sessionKey(id, userID string) string { return fmt.Sprintf("session:%s:%s", id, userID) }

func (s *SessionService) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	return data, true
}

func (s *SessionService) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.DebugContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

func (s *SessionService) invalidate(ctx context.Context, id, userID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, sessionKey(id, userID))
	s.invalidateUser(ctx, userID)
}

func (s *SessionService) invalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, listKey(userID))
}
