package logging

import (
	"context"
	"testing"
	"time"
)

func TestDetachContext_SurvivesCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached := DetachContext(parent)

	cancel()

	if parent.Err() == nil {
		t.Error("parent should be cancelled")
	}
	if detached.Err() != nil {
		t.Errorf("detached should survive cancellation, got error: %v", detached.Err())
	}
}

func TestDetachContext_PreservesValues(t *testing.T) {
	type key string
	parent := context.WithValue(context.Background(), key("request_id"), "req-1")
	detached := DetachContext(parent)

	if v := detached.Value(key("request_id")); v != "req-1" {
		t.Errorf("expected value req-1, got %v", v)
	}
}

func TestDetachContextWithTimeout_HasOwnDeadline(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	detached, cancel := DetachContextWithTimeout(parent, 50*time.Millisecond)
	defer cancel()

	parentCancel()

	if detached.Err() != nil {
		t.Errorf("detached should not be cancelled yet, got: %v", detached.Err())
	}

	<-detached.Done()

	if detached.Err() != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got: %v", detached.Err())
	}
}
