// Package database defines the persistence port for agentd.
package database

import (
	"context"

	"github.com/askluigi/agentd/internal/domain/order"
	"github.com/askluigi/agentd/internal/domain/session"
)

// Store is the port interface for the relational store. Sessions are
// scoped to their owning user on every read; they are mutated after
// runs and git operations and never deleted by this service.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *session.Session) error
	ListSessionsForUser(ctx context.Context, userID string) ([]session.Session, error)
	GetSessionForUser(ctx context.Context, id, userID string) (*session.Session, error)
	AppendPrompt(ctx context.Context, id string, p session.Prompt) error
	MergeFileChanges(ctx context.Context, id string, changes []session.FileChange) error
	SetThreadID(ctx context.Context, id, threadID string) error
	SetBranchName(ctx context.Context, id, branch string) error
	MarkDeployed(ctx context.Context, id string) error

	// Orders
	CreateOrder(ctx context.Context, o *order.Order) error
	ListOrdersForEmail(ctx context.Context, email string) ([]order.Order, error)

	Ping(ctx context.Context) error
}
