package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/classifier"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTEXT ASSEMBLY
// ═══════════════════════════════════════════════════════════════════════════════

// AssembledContext is everything the driver needs to build the first prompt.
type AssembledContext struct {
	History  []memory.Turn
	Excerpts []memory.Excerpt
	Facts    []memory.Fact
	Intent   *classifier.Intent

	// Degraded names the sub-fetches that timed out or failed and were
	// replaced with empty data.
	Degraded []string
}

// MemorySource is the read side of the memory store the assembler needs.
type MemorySource interface {
	RecentHistory(ctx context.Context, userID, conversationID string, limit int) ([]memory.Turn, error)
	SearchExcerpts(ctx context.Context, userID, query string, limit int) ([]memory.Excerpt, error)
	Facts(ctx context.Context, userID string, limit int) ([]memory.Fact, error)
}

// Assembler gathers conversation history, memory excerpts, user facts, and
// an intent classification concurrently. Every sub-fetch is best-effort:
// a failure or timeout degrades that slice to empty rather than failing
// the assembly.
type Assembler struct {
	source     MemorySource
	cache      *memory.ContextCache
	classifier *classifier.Classifier
	cfg        config.ContextConfig
	timeout    time.Duration
	log        *logging.Logger
}

// NewAssembler creates an assembler over the given memory source.
func NewAssembler(source MemorySource, cache *memory.ContextCache, cfg config.ContextConfig, timeout time.Duration) *Assembler {
	return &Assembler{
		source:     source,
		cache:      cache,
		classifier: classifier.New(),
		cfg:        cfg,
		timeout:    timeout,
		log:        logging.Global().WithComponent("assembler"),
	}
}

// Assemble runs the sub-fetches in parallel and joins them. Intent
// classification is local and cannot fail; the three store reads each get
// the configured budget and degrade to empty on error or timeout.
func (a *Assembler) Assemble(ctx context.Context, userID, conversationID, message string) *AssembledContext {
	if a.cache != nil {
		if cached, ok := a.cache.Get(userID, conversationID); ok {
			if asm, ok := cached.(*AssembledContext); ok {
				a.log.Debug("context cache hit for user %s", userID)
				// History changes every turn; refresh it, reuse the rest.
				refreshed := *asm
				refreshed.History = a.fetchHistory(ctx, userID, conversationID, &refreshed)
				refreshed.Intent = a.classifier.Classify(message)
				return &refreshed
			}
		}
	}

	asm := &AssembledContext{
		Intent: a.classifier.Classify(message),
	}

	var mu sync.Mutex
	degrade := func(name string) {
		mu.Lock()
		asm.Degraded = append(asm.Degraded, name)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		history, err := a.source.RecentHistory(fetchCtx, userID, conversationID, a.cfg.HistoryLimit)
		if err != nil {
			a.log.Warn("history fetch degraded for user %s: %v", userID, err)
			degrade("history")
			return
		}
		asm.History = history
	}()

	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		excerpts, err := a.source.SearchExcerpts(fetchCtx, userID, message, a.cfg.ExcerptLimit)
		if err != nil {
			a.log.Warn("excerpt search degraded for user %s: %v", userID, err)
			degrade("excerpts")
			return
		}
		asm.Excerpts = excerpts
	}()

	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		facts, err := a.source.Facts(fetchCtx, userID, a.cfg.FactLimit)
		if err != nil {
			a.log.Warn("facts fetch degraded for user %s: %v", userID, err)
			degrade("facts")
			return
		}
		asm.Facts = facts
	}()

	wg.Wait()

	if a.cache != nil {
		a.cache.Set(userID, conversationID, asm)
	}
	return asm
}

// fetchHistory re-reads just the conversation history with the fetch budget.
func (a *Assembler) fetchHistory(ctx context.Context, userID, conversationID string, asm *AssembledContext) []memory.Turn {
	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	history, err := a.source.RecentHistory(fetchCtx, userID, conversationID, a.cfg.HistoryLimit)
	if err != nil {
		a.log.Warn("history refresh degraded for user %s: %v", userID, err)
		asm.Degraded = append(asm.Degraded, "history")
		return nil
	}
	return history
}

// Invalidate drops the cached context for a conversation. Normal staleness
// is handled by the TTL (hits refresh history and intent, reusing cached
// excerpts and facts); this is for callers that change memory out of band.
func (a *Assembler) Invalidate(userID, conversationID string) {
	if a.cache != nil {
		a.cache.Invalidate(userID, conversationID)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SYSTEM PROMPT
// ═══════════════════════════════════════════════════════════════════════════════

const basePrompt = `You are a personal assistant with access to the user's memory and a set of tools. Be concise and direct. Use tools when they would materially improve the answer; answer directly when they would not.`

// BuildSystemPrompt composes the base prompt with memory excerpts, user
// facts, and an intent hint.
func BuildSystemPrompt(asm *AssembledContext) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if len(asm.Facts) > 0 {
		sb.WriteString("\n\nKnown facts about the user:\n")
		for _, f := range asm.Facts {
			sb.WriteString(fmt.Sprintf("- %s\n", f.Fact))
		}
	}

	if len(asm.Excerpts) > 0 {
		sb.WriteString("\nRelevant excerpts from past conversations:\n")
		for _, e := range asm.Excerpts {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", e.Role, e.Content))
		}
	}

	if asm.Intent != nil && asm.Intent.Category != "chat" {
		sb.WriteString(fmt.Sprintf("\nThe user's message looks like a %s request.", asm.Intent.String()))
	}

	return sb.String()
}
