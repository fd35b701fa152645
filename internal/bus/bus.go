package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 500

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 100
)

// SubscriptionID identifies an event subscription.
type SubscriptionID string

// Subscription is a single registered handler. Each subscription gets its
// own buffered channel and goroutine so a slow handler cannot block
// publishers or other subscribers.
type Subscription struct {
	ID        SubscriptionID
	EventType EventType
	Handler   func(Event)
	channel   chan Event
	done      chan struct{}
}

// Bus is a thread-safe pub/sub hub with wildcard subscriptions and a
// bounded event history.
type Bus struct {
	mu         sync.RWMutex
	subs       map[SubscriptionID]*Subscription
	typedSubs  map[EventType]map[SubscriptionID]*Subscription
	wildcards  map[SubscriptionID]*Subscription
	subCounter atomic.Uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a bus with the default history size.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus retaining at most historySize events.
func NewWithHistory(historySize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:        make(map[SubscriptionID]*Subscription),
		typedSubs:   make(map[EventType]map[SubscriptionID]*Subscription),
		wildcards:   make(map[SubscriptionID]*Subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a handler for an event type. EventType("") subscribes
// to all events. The returned ID is used to unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter.Add(1)))
	sub := &Subscription{
		ID:        id,
		EventType: eventType,
		Handler:   handler,
		channel:   make(chan Event, DefaultChannelBuffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = sub
	if eventType == "" {
		b.wildcards[id] = sub
	} else {
		if b.typedSubs[eventType] == nil {
			b.typedSubs[eventType] = make(map[SubscriptionID]*Subscription)
		}
		b.typedSubs[eventType][id] = sub
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub)

	return id
}

// dispatch delivers events to a single subscription's handler.
func (b *Bus) dispatch(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.channel:
			sub.Handler(event)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	sub, exists := b.subs[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	if sub.EventType == "" {
		delete(b.wildcards, id)
	} else if typed, ok := b.typedSubs[sub.EventType]; ok {
		delete(typed, id)
		if len(typed) == 0 {
			delete(b.typedSubs, sub.EventType)
		}
	}
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// Publish sends an event to all matching subscribers. Subscribers whose
// buffers are full are skipped rather than blocked on.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcards {
		select {
		case sub.channel <- event:
		default:
			// Buffer full, drop for this subscriber.
		}
	}
	for _, sub := range b.typedSubs[event.Type] {
		select {
		case sub.channel <- event:
		default:
		}
	}
	return nil
}

func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns a copy of the retained event history.
func (b *Bus) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	result := make([]Event, len(b.history))
	copy(result, b.history)
	return result
}

// RecentHistory returns the last n retained events.
func (b *Bus) RecentHistory(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	if n > len(b.history) {
		n = len(b.history)
	}
	result := make([]Event, n)
	copy(result, b.history[len(b.history)-n:])
	return result
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and stops all subscription goroutines.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*Subscription)
	b.typedSubs = make(map[EventType]map[SubscriptionID]*Subscription)
	b.wildcards = make(map[SubscriptionID]*Subscription)
	b.mu.Unlock()

	return nil
}
