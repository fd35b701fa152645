package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
)

// scriptedSource returns configured data or errors per sub-fetch.
type scriptedSource struct {
	history     []memory.Turn
	historyErr  error
	excerpts    []memory.Excerpt
	excerptsErr error
	facts       []memory.Fact
	factsErr    error
	delay       time.Duration
}

func (s *scriptedSource) RecentHistory(ctx context.Context, userID, conversationID string, limit int) ([]memory.Turn, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.history, s.historyErr
}

func (s *scriptedSource) SearchExcerpts(ctx context.Context, userID, query string, limit int) ([]memory.Excerpt, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.excerpts, s.excerptsErr
}

func (s *scriptedSource) Facts(ctx context.Context, userID string, limit int) ([]memory.Fact, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.facts, s.factsErr
}

func (s *scriptedSource) wait(ctx context.Context) error {
	if s.delay == 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testContextConfig() config.ContextConfig {
	return config.ContextConfig{HistoryLimit: 20, ExcerptLimit: 5, FactLimit: 10}
}

func TestAssembleGathersAllSources(t *testing.T) {
	source := &scriptedSource{
		history:  []memory.Turn{{Role: "user", Content: "earlier message"}},
		excerpts: []memory.Excerpt{{Role: "assistant", Content: "we discussed Lisbon"}},
		facts:    []memory.Fact{{Fact: "prefers tea"}},
	}
	a := NewAssembler(source, nil, testContextConfig(), time.Second)

	asm := a.Assemble(context.Background(), "alice", "conv1", "what's the weather?")
	assert.Len(t, asm.History, 1)
	assert.Len(t, asm.Excerpts, 1)
	assert.Len(t, asm.Facts, 1)
	assert.Empty(t, asm.Degraded)
	require.NotNil(t, asm.Intent)
	assert.Equal(t, "lookup.weather", asm.Intent.String())
}

func TestAssembleDegradesFailedFetchesToEmpty(t *testing.T) {
	source := &scriptedSource{
		history:     []memory.Turn{{Role: "user", Content: "earlier"}},
		excerptsErr: errors.New("search index offline"),
		factsErr:    errors.New("db locked"),
	}
	a := NewAssembler(source, nil, testContextConfig(), time.Second)

	asm := a.Assemble(context.Background(), "alice", "conv1", "hello")
	assert.Len(t, asm.History, 1)
	assert.Empty(t, asm.Excerpts)
	assert.Empty(t, asm.Facts)
	assert.ElementsMatch(t, []string{"excerpts", "facts"}, asm.Degraded)
}

func TestAssembleTimeoutDegradesToEmpty(t *testing.T) {
	source := &scriptedSource{
		history: []memory.Turn{{Role: "user", Content: "earlier"}},
		delay:   200 * time.Millisecond,
	}
	a := NewAssembler(source, nil, testContextConfig(), 20*time.Millisecond)

	start := time.Now()
	asm := a.Assemble(context.Background(), "alice", "conv1", "hello")
	elapsed := time.Since(start)

	assert.Empty(t, asm.History)
	assert.Len(t, asm.Degraded, 3)
	// The fetches run in parallel and are cut off by the budget.
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestAssembleCachesAndRefreshesHistory(t *testing.T) {
	source := &scriptedSource{
		history: []memory.Turn{{Role: "user", Content: "first"}},
		facts:   []memory.Fact{{Fact: "prefers tea"}},
	}
	cache := memory.NewContextCache(time.Minute)
	a := NewAssembler(source, cache, testContextConfig(), time.Second)

	first := a.Assemble(context.Background(), "alice", "conv1", "hello")
	require.Len(t, first.Facts, 1)

	// New turn lands in the store; the cached entry keeps facts but the
	// history is re-read.
	source.history = append(source.history, memory.Turn{Role: "assistant", Content: "second"})
	second := a.Assemble(context.Background(), "alice", "conv1", "hello again")
	assert.Len(t, second.Facts, 1)
	assert.Len(t, second.History, 2)

	a.Invalidate("alice", "conv1")
	assert.Equal(t, 0, cache.Len())
}

func TestBuildSystemPromptSections(t *testing.T) {
	a := NewAssembler(&scriptedSource{
		facts:    []memory.Fact{{Fact: "prefers tea over coffee"}},
		excerpts: []memory.Excerpt{{Role: "user", Content: "planning a trip to Portugal"}},
	}, nil, testContextConfig(), time.Second)
	asm := a.Assemble(context.Background(), "alice", "conv1", "search for cheap flights")

	prompt := BuildSystemPrompt(asm)
	assert.Contains(t, prompt, "prefers tea over coffee")
	assert.Contains(t, prompt, "planning a trip to Portugal")
	assert.Contains(t, prompt, "lookup.web_search")
}

func TestBuildSystemPromptBareContext(t *testing.T) {
	prompt := BuildSystemPrompt(&AssembledContext{})
	assert.Contains(t, prompt, "personal assistant")
	assert.NotContains(t, prompt, "Known facts")
	assert.NotContains(t, prompt, "excerpts")
}
