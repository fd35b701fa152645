package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// StatsProvider wraps an LLM provider with timing and call accounting.
type StatsProvider struct {
	provider Provider
	name     string
	log      *logging.Logger

	totalCalls  int64
	totalErrors int64
	totalTokens int64

	mu           sync.RWMutex
	totalLatency time.Duration
	maxLatency   time.Duration
}

// Stats is a point-in-time snapshot of a provider's call accounting.
type Stats struct {
	Provider     string
	Calls        int64
	Errors       int64
	Tokens       int64
	AvgLatency   time.Duration
	MaxLatency   time.Duration
}

// NewStatsProvider wraps a provider with call accounting.
func NewStatsProvider(provider Provider) *StatsProvider {
	return &StatsProvider{
		provider: provider,
		name:     provider.Name(),
		log:      logging.Global().WithComponent("llm"),
	}
}

// Chat implements Provider, recording latency and outcome.
func (s *StatsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := s.provider.Chat(ctx, req)

	latency := time.Since(start)

	atomic.AddInt64(&s.totalCalls, 1)
	if err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
	}
	if resp != nil && resp.TokensUsed > 0 {
		atomic.AddInt64(&s.totalTokens, int64(resp.TokensUsed))
	}

	s.mu.Lock()
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("%s call failed after %v: %v", s.name, latency, err)
	} else {
		s.log.Debug("%s completed in %v (%d tokens)", s.name, latency, resp.TokensUsed)
	}

	return resp, err
}

// Name implements Provider.
func (s *StatsProvider) Name() string {
	return s.name
}

// Available implements Provider.
func (s *StatsProvider) Available() bool {
	return s.provider.Available()
}

// Snapshot returns the accounting so far.
func (s *StatsProvider) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := atomic.LoadInt64(&s.totalCalls)
	avg := time.Duration(0)
	if calls > 0 {
		avg = s.totalLatency / time.Duration(calls)
	}

	return Stats{
		Provider:   s.name,
		Calls:      calls,
		Errors:     atomic.LoadInt64(&s.totalErrors),
		Tokens:     atomic.LoadInt64(&s.totalTokens),
		AvgLatency: avg,
		MaxLatency: s.maxLatency,
	}
}

// Unwrap returns the underlying provider.
func (s *StatsProvider) Unwrap() Provider {
	return s.provider
}
