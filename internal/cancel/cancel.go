// Package cancel implements the durable cancellation signal for agent runs.
//
// A cancel request can arrive on a different HTTP request than the one
// driving the run, so the flag is a marker file under the data dir
// rather than request-scoped memory: any handler can set it, and the
// run loop observes it on its poll interval. The in-memory handle gives
// same-process requests an immediate abort on top of the durable flag.
package cancel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

const markerName = "cancel.requested"

// Signal couples the durable cancel flag with the active run's abort handle.
type Signal struct {
	mu    sync.Mutex
	path  string
	abort context.CancelFunc
}

// New creates a Signal whose marker file lives under dataDir.
func New(dataDir string) *Signal {
	return &Signal{path: filepath.Join(dataDir, markerName)}
}

// Request idempotently marks the durable flag and aborts the active run,
// if any. Safe to call when no run is in progress.
func (s *Signal) Request() error {
	s.mu.Lock()
	abort := s.abort
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, []byte("1"), 0o644); err != nil { //nolint:gosec // G306: marker file
		return err
	}

	if abort != nil {
		abort()
	}
	return nil
}

// Clear removes the durable flag. Called at run start (stale flags) and
// in run teardown.
func (s *Signal) Clear() {
	_ = os.Remove(s.path)
}

// Requested reports whether the durable flag is set.
func (s *Signal) Requested() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Bind registers the active run's abort handle.
func (s *Signal) Bind(abort context.CancelFunc) {
	s.mu.Lock()
	s.abort = abort
	s.mu.Unlock()
}

// Unbind drops the abort handle in run teardown.
func (s *Signal) Unbind() {
	s.mu.Lock()
	s.abort = nil
	s.mu.Unlock()
}
