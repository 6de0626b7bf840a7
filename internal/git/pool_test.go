package git

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrentOps(t *testing.T) {
	const limit = 3
	const ops = 10
	pool := NewPool(limit)

	var running, peak atomic.Int32
	done := make(chan struct{}, ops)

	for range ops {
		go func() {
			defer func() { done <- struct{}{} }()
			err := pool.Run(context.Background(), func() error {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	for range ops {
		<-done
	}

	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrent git ops = %d, want <= %d", p, limit)
	}
}

func TestPoolCanceledWhileWaiting(t *testing.T) {
	pool := NewPool(1)

	occupied := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func() error {
			close(occupied)
			<-release
			return nil
		})
	}()
	<-occupied
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Run(ctx, func() error {
		t.Error("fn ran despite canceled context")
		return nil
	})
	if err == nil {
		t.Error("want ctx error while waiting for a slot")
	}
}

func TestPoolClampsLimit(t *testing.T) {
	pool := NewPool(0)

	if err := pool.Run(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Run with clamped limit: %v", err)
	}
}

func TestNilPoolRunsDirectly(t *testing.T) {
	var pool *Pool

	ran := false
	if err := pool.Run(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("Run on nil pool: %v", err)
	}
	if !ran {
		t.Error("fn did not run")
	}
}
