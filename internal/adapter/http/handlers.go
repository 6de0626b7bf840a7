// Package http implements the HTTP adapter: routes, JSON helpers, and
// the SSE run stream.
package http

import (
	"context"

	"github.com/askluigi/agentd/internal/domain/agent"
	"github.com/askluigi/agentd/internal/domain/order"
	"github.com/askluigi/agentd/internal/domain/session"
	"github.com/askluigi/agentd/internal/service"
)

// runner is the slice of service.RunnerService the handlers use.
type runner interface {
	Run(ctx context.Context, prompt string) <-chan agent.Event
	Cancel(ctx context.Context) (bool, error)
	ThreadID() string
	ResetThread(ctx context.Context)
}

// gitCoordinator is the slice of service.GitService the handlers use.
type gitCoordinator interface {
	Status(ctx context.Context) (*service.GitStatus, error)
	CreateBranchAndCommit(ctx context.Context, prompt string) (*service.BranchResult, error)
	DeployToMain(ctx context.Context, branch string) (string, error)
}

// sessionManager is the slice of service.SessionService the handlers use.
type sessionManager interface {
	Create(ctx context.Context, userID string) (*session.Session, error)
	List(ctx context.Context, userID string) ([]session.Session, error)
	Get(ctx context.Context, id, userID string) (*session.Session, error)
	RecordRun(ctx context.Context, id, userID, prompt, threadID string, changes []session.FileChange) error
	SetBranch(ctx context.Context, id, userID, branch string) error
	MarkDeployed(ctx context.Context, id, userID string) error
}

// orderManager is the slice of service.OrderService the handlers use.
type orderManager interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	ListForEmail(ctx context.Context, email string) ([]order.Order, error)
}

// Handlers bundles all HTTP handlers and their dependencies.
type Handlers struct {
	runner   runner
	git      gitCoordinator
	sessions sessionManager
	orders   orderManager
}

// NewHandlers creates the handler set.
func NewHandlers(run runner, git gitCoordinator, sessions sessionManager, orders orderManager) *Handlers {
	return &Handlers{runner: run, git: git, sessions: sessions, orders: orders}
}
