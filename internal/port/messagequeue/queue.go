// Package messagequeue defines the message queue port and agentd's
// run lifecycle subjects.
package messagequeue

import (
	"context"
	"time"
)

// Subjects for run lifecycle messages published for external observers.
const (
	SubjectRunStarted   = "agent.run.started"
	SubjectRunCompleted = "agent.run.completed"
	SubjectRunCanceled  = "agent.run.canceled"
	SubjectRunFailed    = "agent.run.failed"
)

// RunLifecyclePayload is the body published on the run lifecycle subjects.
type RunLifecyclePayload struct {
	RunID     string    `json:"run_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
	Restored  []string  `json:"restored,omitempty"`
}

// Handler processes one received message.
type Handler func(subject string, data []byte) error

// Queue is the port interface for the message broker.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
	Close() error
}
