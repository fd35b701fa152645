package bus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	b := New()
	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.historySize != DefaultHistorySize {
		t.Errorf("expected history size %d, got %d", DefaultHistorySize, b.historySize)
	}
	b.Close()
}

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	defer b.Close()

	done := make(chan Event, 1)
	id := b.Subscribe(EventTurnStarted, func(e Event) {
		done <- e
	})
	if id == "" {
		t.Fatal("Subscribe returned empty ID")
	}

	event := NewEvent(EventTurnStarted)
	event.RequestID = "req_1"
	event.UserID = "alice"

	if err := b.Publish(event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-done:
		if got.RequestID != "req_1" || got.UserID != "alice" {
			t.Errorf("handler got wrong event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for event")
	}
}

func TestTypedSubscriberIgnoresOtherTypes(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(EventToolCallStarted, func(e Event) {
		calls.Add(1)
	})

	b.Publish(NewEvent(EventTurnStarted))
	b.Publish(NewEvent(EventProviderResponse))
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("expected 0 calls, got %d", calls.Load())
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	done := make(chan bool, 1)
	b.Subscribe(EventType(""), func(e Event) {
		if calls.Add(1) == 2 {
			done <- true
		}
	})

	b.Publish(NewEvent(EventTurnStarted))
	b.Publish(NewEvent(EventToolCallCompleted))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("timeout waiting for wildcard events")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	id := b.Subscribe(EventTurnStarted, func(e Event) {
		calls.Add(1)
	})

	b.Publish(NewEvent(EventTurnStarted))
	time.Sleep(50 * time.Millisecond)

	if err := b.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	b.Publish(NewEvent(EventTurnStarted))
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestUnsubscribeUnknownID(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Unsubscribe("sub_999"); err == nil {
		t.Error("expected error for unknown subscription")
	}
}

func TestHistoryRetainsAndTrims(t *testing.T) {
	b := NewWithHistory(3)
	defer b.Close()

	for i := 0; i < 5; i++ {
		e := NewEvent(EventAttemptStarted)
		e.Attempt = i
		b.Publish(e)
	}

	history := b.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(history))
	}
	if history[0].Attempt != 2 || history[2].Attempt != 4 {
		t.Errorf("history kept wrong events: %+v", history)
	}

	recent := b.RecentHistory(2)
	if len(recent) != 2 || recent[1].Attempt != 4 {
		t.Errorf("RecentHistory wrong: %+v", recent)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	b.Close()

	if err := b.Publish(NewEvent(EventTurnStarted)); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	if err := b.Close(); err == nil {
		t.Error("expected error on double close")
	}
	if b.SubscriptionCount() != 0 {
		t.Error("expected zero subscriptions after close")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	b.Subscribe(EventTurnStarted, func(e Event) {
		<-block
	})

	// Fill the subscriber buffer and keep going; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultChannelBuffer*2; i++ {
			b.Publish(NewEvent(EventTurnStarted))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
	close(block)
}
