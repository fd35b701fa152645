package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATION DRIVER
// ═══════════════════════════════════════════════════════════════════════════════

// ProviderResolver resolves the model providers for a user.
type ProviderResolver interface {
	Resolve(userID string) (*llm.Selection, error)
}

// PostprocSink accepts detached post-processing work. Submit must not
// block; a dropped job is the sink's problem, not the caller's. The
// context is detached by the sink, so request cancellation after submission
// does not touch the work.
type PostprocSink interface {
	Submit(ctx context.Context, userID, conversationID, message, response, requestID string)
}

// AttemptRunner executes one attempt of the tool-calling loop. Loop is the
// shipped implementation; the seam exists so an alternate strategy (a
// planner, a scripted runner in tests) can slot in.
type AttemptRunner interface {
	RunAttempt(ctx context.Context, in attemptInput) (*AttemptState, error)
}

// Driver wires the assembler, resolver, tool-calling loop, and retry
// policy into the end-to-end flow for one conversation turn.
type Driver struct {
	resolver  ProviderResolver
	assembler *Assembler
	gateway   *gateway.Gateway
	loop      AttemptRunner
	policy    *RetryPolicy
	events    *bus.Bus
	postproc  PostprocSink
	cfg       config.OrchestratorConfig
	log       *logging.Logger
}

// NewDriver assembles the orchestration driver.
func NewDriver(resolver ProviderResolver, assembler *Assembler, gw *gateway.Gateway, events *bus.Bus, postproc PostprocSink, cfg config.OrchestratorConfig) *Driver {
	return &Driver{
		resolver:  resolver,
		assembler: assembler,
		gateway:   gw,
		loop:      NewLoop(gw, events, cfg.BreakerThreshold, cfg.MaxToolIterations),
		policy: &RetryPolicy{
			MaxAttempts:       cfg.MaxRetryAttempts,
			MinResponseLength: cfg.MinResponseLength,
		},
		events:   events,
		postproc: postproc,
		cfg:      cfg,
		log:      logging.Global().WithComponent("driver"),
	}
}

// Orchestrate handles one turn. It always returns either a result with a
// user-visible response (possibly degraded) or an error; errors are limited
// to missing provider configuration and caller cancellation.
func (d *Driver) Orchestrate(ctx context.Context, req *ChatRequest) (*OrchestrationResult, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := d.log.WithRequest(req.RequestID)

	d.publish(func(e *bus.Event) {
		e.Type = bus.EventTurnStarted
		e.RequestID = req.RequestID
		e.UserID = req.UserID
		e.ConversationID = req.ConversationID
	})

	// Provider resolution and context assembly run in parallel; only the
	// resolver can fail the turn.
	var (
		selection  *llm.Selection
		resolveErr error
		asm        *AssembledContext
	)
	resolved := make(chan struct{})
	go func() {
		selection, resolveErr = d.resolver.Resolve(req.UserID)
		close(resolved)
	}()
	asm = d.assembler.Assemble(ctx, req.UserID, req.ConversationID, req.Message)
	<-resolved

	if resolveErr != nil {
		d.publish(func(e *bus.Event) {
			e.Type = bus.EventTurnFailed
			e.RequestID = req.RequestID
			e.UserID = req.UserID
			e.Error = resolveErr.Error()
		})
		return nil, fmt.Errorf("resolve provider for user %s: %w", req.UserID, resolveErr)
	}

	d.publish(func(e *bus.Event) {
		e.Type = bus.EventContextAssembled
		e.RequestID = req.RequestID
		e.UserID = req.UserID
		e.Content = fmt.Sprintf("history=%d excerpts=%d facts=%d", len(asm.History), len(asm.Excerpts), len(asm.Facts))
	})
	if len(asm.Degraded) > 0 {
		d.publish(func(e *bus.Event) {
			e.Type = bus.EventContextDegraded
			e.RequestID = req.RequestID
			e.UserID = req.UserID
			e.Content = strings.Join(asm.Degraded, ",")
		})
	}

	systemPrompt := BuildSystemPrompt(asm)
	messages := d.buildMessages(req, asm)

	var (
		active       = selection.Primary
		fallbackUsed = false
		retryCtx     *RetryContext
		excluded     = map[string]bool{}
		allResults   []gateway.ToolCallResult
		state        *AttemptState
	)

	attemptIndex := 0
	for {
		prompt := systemPrompt
		if retryCtx != nil && retryCtx.Guidance != "" {
			prompt += "\n\nGuidance from the previous attempt: " + retryCtx.Guidance
		}

		d.publish(func(e *bus.Event) {
			e.Type = bus.EventAttemptStarted
			e.RequestID = req.RequestID
			e.UserID = req.UserID
			e.Attempt = attemptIndex
			e.Provider = active.Name()
		})

		var err error
		state, active, fallbackUsed, err = d.runAttempt(ctx, attemptInput{
			Provider:     active,
			SystemPrompt: prompt,
			Messages:     messages,
			Schemas:      d.gateway.SchemasFor(req.UserID, excluded),
			UserID:       req.UserID,
			RequestID:    req.RequestID,
		}, selection, fallbackUsed)

		if ctx.Err() != nil {
			d.publish(func(e *bus.Event) {
				e.Type = bus.EventTurnCancelled
				e.RequestID = req.RequestID
				e.UserID = req.UserID
			})
			log.Info("turn cancelled after %v", time.Since(start))
			return nil, ctx.Err()
		}
		if err != nil {
			// Provider failure with no fallback left: count it as an
			// attempt that produced nothing and let the policy decide.
			log.Warn("attempt %d provider failure: %v", attemptIndex, err)
			d.publish(func(e *bus.Event) {
				e.Type = bus.EventProviderError
				e.RequestID = req.RequestID
				e.Attempt = attemptIndex
				e.Error = err.Error()
			})
		}
		allResults = append(allResults, state.ToolResults...)

		decision := d.policy.Decide(state.ResponseText, state.ToolResults, attemptIndex, retryCtx)
		if !decision.ShouldRetry {
			break
		}

		retryCtx = decision.Context
		for _, name := range retryCtx.ExcludeTools {
			excluded[name] = true
		}
		attemptIndex++
		d.publish(func(e *bus.Event) {
			e.Type = bus.EventRetryScheduled
			e.RequestID = req.RequestID
			e.Attempt = attemptIndex
			e.Content = string(retryCtx.Reason)
		})
		log.Info("retrying attempt %d: %s", attemptIndex, retryCtx.Reason)
	}

	result := &OrchestrationResult{
		RequestID:     req.RequestID,
		Response:      strings.TrimSpace(state.ResponseText),
		Success:       true,
		RetryAttempts: attemptIndex,
		ToolResults:   allResults,
		Model:         state.Model,
		TokensUsed:    state.TokensUsed,
		Duration:      time.Since(start),
	}

	if !d.usable(result.Response) {
		result.Response = d.policy.BuildFallbackResponse(retryCtx, req.Message)
		result.Degraded = true
		log.Warn("attempts exhausted, returning degraded response")
	}

	d.publish(func(e *bus.Event) {
		e.Type = bus.EventTurnCompleted
		e.RequestID = req.RequestID
		e.UserID = req.UserID
		e.Attempt = attemptIndex
		e.Model = result.Model
		e.DurationMs = result.Duration.Milliseconds()
	})

	d.schedulePostproc(ctx, req, result)

	return result, nil
}

// runAttempt executes one attempt, substituting the fallback provider at
// most once per request when the primary fails at the transport level. The
// substitution is atomic: the failed call is redone wholly on the fallback.
func (d *Driver) runAttempt(ctx context.Context, in attemptInput, selection *llm.Selection, fallbackUsed bool) (*AttemptState, llm.Provider, bool, error) {
	state, err := d.runWithBudget(ctx, in)
	if err == nil || ctx.Err() != nil {
		return state, in.Provider, fallbackUsed, err
	}

	if llm.IsTransportError(err) && selection.HasFallback() && !fallbackUsed {
		d.log.Warn("provider %s transport failure, substituting fallback %s: %v", in.Provider.Name(), selection.Fallback.Name(), err)
		d.publish(func(e *bus.Event) {
			e.Type = bus.EventFallbackSubstitute
			e.RequestID = in.RequestID
			e.Provider = selection.Fallback.Name()
			e.Error = err.Error()
		})
		in.Provider = selection.Fallback
		// The substituted run gets its own attempt budget; the primary may
		// have burned the previous one before failing.
		retried, retryErr := d.runWithBudget(ctx, in)
		// Results from the failed primary pass are kept for diagnostics.
		retried.ToolResults = append(state.ToolResults, retried.ToolResults...)
		return retried, selection.Fallback, true, retryErr
	}

	return state, in.Provider, fallbackUsed, err
}

// runWithBudget runs the loop once under the per-attempt timeout.
func (d *Driver) runWithBudget(ctx context.Context, in attemptInput) (*AttemptState, error) {
	if d.cfg.AttemptTimeoutSec > 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout())
		defer cancel()
		return d.loop.RunAttempt(attemptCtx, in)
	}
	return d.loop.RunAttempt(ctx, in)
}

// buildMessages converts the request history, or the stored history when
// the request carries none, into the model message list ending with the
// new user message.
func (d *Driver) buildMessages(req *ChatRequest, asm *AssembledContext) []llm.Message {
	var messages []llm.Message
	if len(req.History) > 0 {
		for _, t := range req.History {
			messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
		}
	} else {
		for _, t := range asm.History {
			messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	return messages
}

func (d *Driver) usable(response string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(response)) >= d.cfg.MinResponseLength
}

// schedulePostproc hands the finished turn to the background queue. The
// queue carries its own detached context, so cancelling the request after
// this point does not touch the work.
func (d *Driver) schedulePostproc(ctx context.Context, req *ChatRequest, result *OrchestrationResult) {
	if d.postproc == nil {
		return
	}
	d.postproc.Submit(ctx, req.UserID, req.ConversationID, req.Message, result.Response, req.RequestID)
	d.publish(func(e *bus.Event) {
		e.Type = bus.EventPostprocQueued
		e.RequestID = req.RequestID
		e.UserID = req.UserID
	})
}

func (d *Driver) publish(fill func(*bus.Event)) {
	if d.events == nil {
		return
	}
	event := bus.NewEvent("")
	fill(&event)
	d.events.Publish(event)
}
