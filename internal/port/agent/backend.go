// Package agent defines the port for the external coding-agent backend.
package agent

import "context"

// Options configures a new conversational thread.
type Options struct {
	// WorkingDirectory is the project tree the agent edits.
	WorkingDirectory string
	// Model overrides the backend's default model when non-empty.
	Model string
	// SandboxMode is the backend's filesystem policy, e.g. "workspace-write".
	SandboxMode string
	// SkipGitRepoCheck disables the backend's own git safety check;
	// agentd manages git itself.
	SkipGitRepoCheck bool
}

// Change is one path touched by a completed file-change item.
type Change struct {
	Path string
	Kind string // vendor change kind: add | update | delete
}

// Item is the payload of a completed vendor item event.
type Item struct {
	Type    string // vendor item type, e.g. "fileChange", "agentMessage"
	Text    string
	Changes []Change
}

// RawEvent is one event in the vendor's open, versioned schema. The
// Kind strings are the vendor's; only service.RunnerService interprets
// them, and unrecognized kinds are dropped there.
type RawEvent struct {
	Kind string // e.g. "reasoning", "message", "item.completed", "error"
	Text string
	Item *Item
	Err  string
}

// Thread is a stateful multi-turn conversation bound to a working
// directory. At most one Run may be streaming per thread.
type Thread interface {
	// ID returns the backend's thread identifier.
	ID() string

	// Run submits one prompt as a streamed turn. The returned channel
	// yields raw events in the order the backend produced them and is
	// closed when the turn ends, with or without a terminal event.
	Run(ctx context.Context, prompt string) (<-chan RawEvent, error)

	// Interrupt aborts the in-flight turn. Work already performed by
	// the agent is not undone.
	Interrupt(ctx context.Context) error

	// Close releases the thread.
	Close() error
}

// Client starts threads against the external agent backend.
type Client interface {
	StartThread(ctx context.Context, opts Options) (Thread, error)
}
