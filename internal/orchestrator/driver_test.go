package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DRIVER TEST FIXTURES
// ═══════════════════════════════════════════════════════════════════════════════

type fakeResolver struct {
	selection *llm.Selection
	err       error
}

func (f *fakeResolver) Resolve(userID string) (*llm.Selection, error) {
	return f.selection, f.err
}

type fakeSink struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeSink) Submit(ctx context.Context, userID, conversationID, message, response, requestID string) {
	f.mu.Lock()
	f.jobs = append(f.jobs, requestID)
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// emptySource is a memory source with nothing in it.
type emptySource struct{}

func (emptySource) RecentHistory(context.Context, string, string, int) ([]memory.Turn, error) {
	return nil, nil
}
func (emptySource) SearchExcerpts(context.Context, string, string, int) ([]memory.Excerpt, error) {
	return nil, nil
}
func (emptySource) Facts(context.Context, string, int) ([]memory.Fact, error) {
	return nil, nil
}

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		MaxRetryAttempts:  2,
		MinResponseLength: 20,
		MaxToolIterations: 8,
		BreakerThreshold:  3,
	}
}

func newTestDriver(t *testing.T, resolver ProviderResolver, gw *gateway.Gateway, sink PostprocSink) *Driver {
	t.Helper()
	assembler := NewAssembler(emptySource{}, nil, config.ContextConfig{
		HistoryLimit: 20, ExcerptLimit: 5, FactLimit: 10,
	}, time.Second)
	return NewDriver(resolver, assembler, gw, nil, sink, testOrchestratorConfig())
}

func chatReq(msg string) *ChatRequest {
	return &ChatRequest{
		RequestID:      "req_test",
		UserID:         "alice",
		ConversationID: "conv_1",
		Message:        msg,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// DRIVER TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestOrchestrateNoProviderIsFatal(t *testing.T) {
	provider := &fakeProvider{name: "primary"}
	resolver := &fakeResolver{err: errors.New("no provider configured")}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(), sink)

	result, err := d.Orchestrate(context.Background(), chatReq("hello"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, provider.callCount())
	assert.Equal(t, 0, sink.count())
}

func TestOrchestrateRetryAfterEmptyResponse(t *testing.T) {
	// Attempt 0 yields empty text; attempt 1 calls a tool and answers.
	provider := &fakeProvider{name: "primary", script: []scripted{
		textResp(""),
		toolResp(call("c1", "search", `{"query":"weather"}`)),
		textResp("The weather in Lisbon is sunny, around 24 degrees."),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: provider}}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(okTool("search")), sink)

	result, err := d.Orchestrate(context.Background(), chatReq("what's the weather?"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, 1, result.RetryAttempts)
	assert.Equal(t, "The weather in Lisbon is sunny, around 24 degrees.", result.Response)
	require.Len(t, result.ToolResults, 1)
	assert.True(t, result.ToolResults[0].Success)
	assert.Equal(t, 1, sink.count())

	// The retry carried guidance about the empty response.
	second := provider.request(1)
	assert.Contains(t, second.SystemPrompt, "Guidance")
}

func TestOrchestrateExhaustionYieldsDegradedResponse(t *testing.T) {
	provider := &fakeProvider{name: "primary", script: []scripted{
		textResp(""), textResp(""), textResp(""),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: provider}}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(), sink)

	result, err := d.Orchestrate(context.Background(), chatReq("summarize my week"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, 2, result.RetryAttempts)
	assert.Equal(t, 3, provider.callCount())

	// The degraded answer is the deterministic template, never empty.
	policy := &RetryPolicy{MaxAttempts: 2, MinResponseLength: 20}
	expected := policy.BuildFallbackResponse(&RetryContext{Reason: ReasonEmptyResponse, AttemptIndex: 2}, "summarize my week")
	assert.Equal(t, expected, result.Response)
	assert.Equal(t, 1, sink.count())
}

func TestOrchestrateFallbackSubstitution(t *testing.T) {
	primary := &fakeProvider{name: "primary", script: []scripted{
		errResp(&llm.APIError{Provider: "primary", StatusCode: 503}),
	}}
	fallback := &fakeProvider{name: "fallback", script: []scripted{
		textResp("Answer from the fallback provider, fully formed."),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: primary, Fallback: fallback}}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(), sink)

	result, err := d.Orchestrate(context.Background(), chatReq("hello there"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, 0, result.RetryAttempts)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, fallback.callCount())
	assert.Equal(t, "Answer from the fallback provider, fully formed.", result.Response)
}

func TestOrchestrateFallbackUsedOnlyOnce(t *testing.T) {
	primary := &fakeProvider{name: "primary", script: []scripted{
		errResp(&llm.APIError{Provider: "primary", StatusCode: 503}),
	}}
	// The fallback also fails; the second failure must not trigger another
	// substitution, it becomes an attempt failure and the retry ceiling
	// eventually produces a degraded answer.
	fallback := &fakeProvider{name: "fallback", script: []scripted{
		errResp(&llm.APIError{Provider: "fallback", StatusCode: 502}),
		errResp(&llm.APIError{Provider: "fallback", StatusCode: 502}),
		errResp(&llm.APIError{Provider: "fallback", StatusCode: 502}),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: primary, Fallback: fallback}}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(), sink)

	result, err := d.Orchestrate(context.Background(), chatReq("hello there"))
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, primary.callCount())
	// Fallback keeps serving the remaining attempts without re-substitution.
	assert.Equal(t, 3, fallback.callCount())
}

func TestOrchestrateFallbackGetsFreshAttemptBudget(t *testing.T) {
	// The primary hangs until the attempt deadline. The substituted
	// fallback must run under its own budget, not the spent one.
	primary := &stubProvider{
		name: "primary",
		chat: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fallback := &fakeProvider{name: "fallback", script: []scripted{
		textResp("Answer from the fallback, delivered inside its own window."),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: primary, Fallback: fallback}}
	sink := &fakeSink{}
	assembler := NewAssembler(emptySource{}, nil, config.ContextConfig{
		HistoryLimit: 20, ExcerptLimit: 5, FactLimit: 10,
	}, time.Second)
	cfg := testOrchestratorConfig()
	cfg.AttemptTimeoutSec = 1
	d := NewDriver(resolver, assembler, newTestGateway(), nil, sink, cfg)

	result, err := d.Orchestrate(context.Background(), chatReq("hello there"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, 0, result.RetryAttempts)
	assert.Equal(t, 1, fallback.callCount())
	assert.Equal(t, "Answer from the fallback, delivered inside its own window.", result.Response)
}

func TestOrchestratePermissionFailureExcludesTool(t *testing.T) {
	provider := &fakeProvider{name: "primary", script: []scripted{
		toolResp(call("c1", "calendar", `{}`)),
		textResp(""),
		textResp("I could not reach your calendar, but here is what I know."),
	}}
	gw := newTestGateway(
		failingTool("calendar", &gateway.PermissionError{Reason: "calendar scope not granted"}),
		okTool("search"),
	)
	resolver := &fakeResolver{selection: &llm.Selection{Primary: provider}}
	d := newTestDriver(t, resolver, gw, &fakeSink{})

	result, err := d.Orchestrate(context.Background(), chatReq("what's on my calendar?"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Attempt 0 offered both tools, the retry offers only search.
	first := provider.request(0)
	names := func(schemas []llm.ToolSchema) []string {
		var out []string
		for _, s := range schemas {
			out = append(out, s.Name)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"calendar", "search"}, names(first.Tools))

	retry := provider.request(2)
	assert.ElementsMatch(t, []string{"search"}, names(retry.Tools))
}

func TestOrchestrateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	blocking := &stubProvider{
		name: "primary",
		chat: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: blocking}}
	sink := &fakeSink{}
	d := newTestDriver(t, resolver, newTestGateway(), sink)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Orchestrate(ctx, chatReq("hello"))
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrate did not return after cancellation")
	}
	assert.Equal(t, 0, sink.count(), "post-processing must not run for a cancelled turn")
}

// stubProvider lets a test supply the Chat function directly.
type stubProvider struct {
	name string
	chat func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (s *stubProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return s.chat(ctx, req)
}
func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return true }

func TestUsableCountsRunes(t *testing.T) {
	d := newTestDriver(t, &fakeResolver{}, newTestGateway(), &fakeSink{})
	assert.False(t, d.usable(strings.Repeat("é", 19)))
	assert.True(t, d.usable(strings.Repeat("é", 20)))
}

func TestOrchestratePublishesLifecycleEvents(t *testing.T) {
	provider := &fakeProvider{name: "primary", script: []scripted{
		toolResp(call("c1", "search", `{"query":"weather"}`)),
		textResp("The weather in Lisbon is sunny, around 24 degrees."),
	}}
	resolver := &fakeResolver{selection: &llm.Selection{Primary: provider}}
	events := bus.New()
	defer events.Close()

	assembler := NewAssembler(emptySource{}, nil, config.ContextConfig{
		HistoryLimit: 20, ExcerptLimit: 5, FactLimit: 10,
	}, time.Second)
	d := NewDriver(resolver, assembler, newTestGateway(okTool("search")), events, &fakeSink{}, testOrchestratorConfig())

	_, err := d.Orchestrate(context.Background(), chatReq("what's the weather?"))
	require.NoError(t, err)

	seen := map[bus.EventType]int{}
	for _, e := range events.History() {
		seen[e.Type]++
	}
	assert.Equal(t, 1, seen[bus.EventTurnStarted])
	assert.Equal(t, 1, seen[bus.EventContextAssembled])
	// Two model calls: the tool round and the final answer.
	assert.Equal(t, 2, seen[bus.EventProviderRequest])
	assert.Equal(t, 2, seen[bus.EventProviderResponse])
	assert.Equal(t, 1, seen[bus.EventToolCallStarted])
	assert.Equal(t, 1, seen[bus.EventToolCallCompleted])
	assert.Equal(t, 1, seen[bus.EventTurnCompleted])
}

func TestOrchestrateToolResultCountMatchesRequests(t *testing.T) {
	provider := &fakeProvider{name: "primary", script: []scripted{
		toolResp(call("c1", "search", `{}`), call("c2", "missing", `{}`), call("c3", "broken", `{}`)),
		textResp("Done, the full picture assembled from what worked."),
	}}
	gw := newTestGateway(okTool("search"), failingTool("broken", errors.New("boom")))
	resolver := &fakeResolver{selection: &llm.Selection{Primary: provider}}
	d := newTestDriver(t, resolver, gw, &fakeSink{})

	result, err := d.Orchestrate(context.Background(), chatReq("do three things"))
	require.NoError(t, err)
	// Every emitted call has a result, including the unregistered tool.
	require.Len(t, result.ToolResults, 3)
	for _, r := range result.ToolResults {
		assert.NotEmpty(t, r.CallID)
	}
}
