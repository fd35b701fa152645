// Package metrics aggregates orchestration events into session counters.
// The server exposes the snapshot on its stats endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
)

// SessionStats holds counters for the current process lifetime.
type SessionStats struct {
	StartTime time.Time `json:"start_time"`

	TurnsStarted   int `json:"turns_started"`
	TurnsCompleted int `json:"turns_completed"`
	TurnsFailed    int `json:"turns_failed"`
	TurnsCancelled int `json:"turns_cancelled"`

	Retries      int `json:"retries"`
	Fallbacks    int `json:"fallbacks"`
	BreakerTrips int `json:"breaker_trips"`

	ToolCalls    int            `json:"tool_calls"`
	ToolFailures int            `json:"tool_failures"`
	ToolUsage    map[string]int `json:"tool_usage,omitempty"`

	PostprocDropped int `json:"postproc_dropped"`

	TotalTurnMs int64 `json:"total_turn_ms"`
	AvgTurnMs   int64 `json:"avg_turn_ms"`

	LastEvent     string    `json:"last_event,omitempty"`
	LastEventTime time.Time `json:"last_event_time,omitempty"`
}

// Collector subscribes to the event bus and aggregates counters.
type Collector struct {
	bus     *bus.Bus
	mu      sync.RWMutex
	session SessionStats
	sub     bus.SubscriptionID
	stopped bool
}

// NewCollector creates a collector over the given bus.
func NewCollector(events *bus.Bus) *Collector {
	return &Collector{
		bus: events,
		session: SessionStats{
			StartTime: time.Now().UTC(),
			ToolUsage: make(map[string]int),
		},
	}
}

// Start subscribes to all orchestration events.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.sub != "" {
		return
	}
	c.sub = c.bus.Subscribe("", c.handleEvent)
}

// Stop unsubscribes. Counters remain readable after Stop.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	if c.sub != "" {
		c.bus.Unsubscribe(c.sub)
		c.sub = ""
	}
}

// SessionStats returns a copy of the current counters.
func (c *Collector) SessionStats() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.session
	stats.ToolUsage = make(map[string]int, len(c.session.ToolUsage))
	for tool, n := range c.session.ToolUsage {
		stats.ToolUsage[tool] = n
	}
	if stats.TurnsCompleted > 0 {
		stats.AvgTurnMs = stats.TotalTurnMs / int64(stats.TurnsCompleted)
	}
	return stats
}

func (c *Collector) handleEvent(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case bus.EventTurnStarted:
		c.session.TurnsStarted++
	case bus.EventTurnCompleted:
		c.session.TurnsCompleted++
		c.session.TotalTurnMs += e.DurationMs
	case bus.EventTurnFailed:
		c.session.TurnsFailed++
	case bus.EventTurnCancelled:
		c.session.TurnsCancelled++
	case bus.EventRetryScheduled:
		c.session.Retries++
	case bus.EventFallbackSubstitute:
		c.session.Fallbacks++
	case bus.EventBreakerTripped:
		c.session.BreakerTrips++
	case bus.EventToolCallCompleted:
		c.session.ToolCalls++
		if e.Error != "" {
			c.session.ToolFailures++
		}
		if e.Tool != "" {
			c.session.ToolUsage[e.Tool]++
		}
	case bus.EventPostprocDropped:
		c.session.PostprocDropped++
	}

	c.session.LastEvent = string(e.Type)
	c.session.LastEventTime = e.Timestamp
}
