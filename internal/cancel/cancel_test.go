package cancel

import (
	"context"
	"testing"
)

func TestRequest_SetsDurableFlag(t *testing.T) {
	s := New(t.TempDir())

	if s.Requested() {
		t.Fatal("fresh signal must not be requested")
	}
	if err := s.Request(); err != nil {
		t.Fatal(err)
	}
	if !s.Requested() {
		t.Error("flag not durable after Request")
	}

	s.Clear()
	if s.Requested() {
		t.Error("flag survived Clear")
	}
}

func TestRequest_IdempotentWithoutActiveRun(t *testing.T) {
	s := New(t.TempDir())
	for range 3 {
		if err := s.Request(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRequest_AbortsBoundHandle(t *testing.T) {
	s := New(t.TempDir())
	ctx, abort := context.WithCancel(context.Background())
	s.Bind(abort)
	defer s.Unbind()

	if err := s.Request(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("bound handle not aborted by Request")
	}
}

func TestUnbind_DetachesHandle(t *testing.T) {
	s := New(t.TempDir())
	ctx, abort := context.WithCancel(context.Background())
	s.Bind(abort)
	s.Unbind()

	if err := s.Request(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
		t.Error("unbound handle must not be aborted")
	default:
	}
}
