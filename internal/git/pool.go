// Package git bounds concurrent git CLI invocations against the
// storefront working tree.
package git

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool is a weighted semaphore over git executions. Status polling from
// the drawer and a branch or deploy operation can arrive together; the
// pool keeps the number of live git processes on the single working
// tree bounded.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool allowing at most limit concurrent operations.
// A limit below one is clamped to one.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot, blocking while
// all slots are busy. Returns ctx.Err() if the context ends during the
// wait. A nil Pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
