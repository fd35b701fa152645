package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOOL-CALLING LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Loop runs one attempt: model call, tool execution, repeat, until the
// model answers in plain text or a guard stops it.
type Loop struct {
	gateway *gateway.Gateway
	events  *bus.Bus
	log     *logging.Logger

	// BreakerThreshold aborts the attempt after this many consecutive
	// all-failure tool rounds. MaxIterations is the coarser hard cap on
	// model calls per attempt.
	BreakerThreshold int
	MaxIterations    int
}

// NewLoop creates the tool-calling loop.
func NewLoop(gw *gateway.Gateway, events *bus.Bus, breakerThreshold, maxIterations int) *Loop {
	return &Loop{
		gateway:          gw,
		events:           events,
		log:              logging.Global().WithComponent("loop"),
		BreakerThreshold: breakerThreshold,
		MaxIterations:    maxIterations,
	}
}

// attemptInput carries everything one attempt needs.
type attemptInput struct {
	Provider     llm.Provider
	Model        string
	SystemPrompt string
	Messages     []llm.Message
	Schemas      []llm.ToolSchema
	UserID       string
	RequestID    string
	MaxTokens    int
	Temperature  float64
}

// RunAttempt drives the loop once. Model calls are sequential; the tool
// calls of a single round run in parallel and are all joined before the
// next model call, with each result re-attached to its call ID. A non-nil
// error means the model call itself failed, which the driver may answer
// with a fallback provider substitution. Tool failures never surface as
// errors, they land in the attempt state for the retry policy to read.
func (l *Loop) RunAttempt(ctx context.Context, in attemptInput) (*AttemptState, error) {
	state := &AttemptState{Model: in.Model}
	messages := append([]llm.Message(nil), in.Messages...)
	consecutiveFailures := 0

	for state.Iterations < l.MaxIterations {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		state.Iterations++

		l.publish(func(e *bus.Event) {
			e.Type = bus.EventProviderRequest
			e.RequestID = in.RequestID
			e.UserID = in.UserID
			e.Provider = in.Provider.Name()
			e.Model = in.Model
		})
		callStart := time.Now()
		resp, err := in.Provider.Chat(ctx, &llm.ChatRequest{
			Model:        in.Model,
			SystemPrompt: in.SystemPrompt,
			Messages:     messages,
			Tools:        in.Schemas,
			MaxTokens:    in.MaxTokens,
			Temperature:  in.Temperature,
		})
		if err != nil {
			return state, err
		}
		l.publish(func(e *bus.Event) {
			e.Type = bus.EventProviderResponse
			e.RequestID = in.RequestID
			e.UserID = in.UserID
			e.Provider = in.Provider.Name()
			e.Model = resp.Model
			e.DurationMs = time.Since(callStart).Milliseconds()
		})
		state.TokensUsed += resp.TokensUsed
		if resp.Model != "" {
			state.Model = resp.Model
		}

		requests, cleanedText := extractToolCalls(resp)
		if len(requests) == 0 {
			state.ResponseText = cleanedText
			return state, nil
		}

		results := l.executeRound(ctx, in.UserID, in.RequestID, requests)
		state.ToolResults = append(state.ToolResults, results...)

		if allFailed(results) {
			consecutiveFailures++
			if consecutiveFailures >= l.BreakerThreshold {
				l.log.Warn("circuit breaker tripped after %d all-failure rounds (request %s)", consecutiveFailures, in.RequestID)
				state.BreakerTripped = true
				state.ResponseText = cleanedText
				l.publish(func(e *bus.Event) {
					e.Type = bus.EventBreakerTripped
					e.RequestID = in.RequestID
					e.UserID = in.UserID
				})
				return state, nil
			}
		} else {
			consecutiveFailures = 0
		}

		// Feed the round back: the assistant turn that asked, then one
		// tool message per result, attached by call ID.
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   cleanedText,
			ToolCalls: toLLMCalls(requests),
		})
		for _, r := range results {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    toolResultContent(r),
				ToolCallID: r.CallID,
			})
		}
	}

	l.log.Warn("attempt hit iteration cap %d (request %s)", l.MaxIterations, in.RequestID)
	return state, nil
}

// executeRound runs all tool calls of one model turn concurrently and
// joins them, preserving request order in the result slice.
func (l *Loop) executeRound(ctx context.Context, userID, requestID string, requests []gateway.ToolCallRequest) []gateway.ToolCallResult {
	results := make([]gateway.ToolCallResult, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req gateway.ToolCallRequest) {
			defer wg.Done()
			l.publish(func(e *bus.Event) {
				e.Type = bus.EventToolCallStarted
				e.RequestID = requestID
				e.UserID = userID
				e.Tool = req.Name
				e.CallID = req.ID
			})

			start := time.Now()
			result := l.gateway.Execute(ctx, userID, req)
			results[i] = result

			l.publish(func(e *bus.Event) {
				e.Type = bus.EventToolCallCompleted
				e.RequestID = requestID
				e.UserID = userID
				e.Tool = req.Name
				e.CallID = req.ID
				e.Error = result.Error
				e.DurationMs = time.Since(start).Milliseconds()
			})
		}(i, req)
	}
	wg.Wait()

	return results
}

func (l *Loop) publish(fill func(*bus.Event)) {
	if l.events == nil {
		return
	}
	event := bus.NewEvent("")
	fill(&event)
	l.events.Publish(event)
}

func toLLMCalls(requests []gateway.ToolCallRequest) []llm.ToolCall {
	calls := make([]llm.ToolCall, 0, len(requests))
	for _, req := range requests {
		calls = append(calls, llm.ToolCall{
			ID:        req.ID,
			Name:      req.Name,
			Arguments: req.Arguments,
		})
	}
	return calls
}

// toolResultContent renders a result for the model. Failures are spelled
// out so the model can correct course instead of hallucinating success.
func toolResultContent(r gateway.ToolCallResult) string {
	if r.Success {
		return r.Output
	}
	return "Tool error (" + string(r.Class) + "): " + r.Error
}
