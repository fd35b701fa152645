package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RETRY POLICY
// ═══════════════════════════════════════════════════════════════════════════════

// RetryPolicy decides, after each attempt, whether to run another one and
// with what changes. Decide is a pure function of its inputs.
type RetryPolicy struct {
	MaxAttempts       int // highest allowed attempt index
	MinResponseLength int
}

// Decision is the policy's verdict for one attempt.
type Decision struct {
	ShouldRetry bool
	Context     *RetryContext
}

// Decide evaluates an attempt's outcome. The ceiling is enforced here and
// only here: once attemptIndex reaches MaxAttempts the answer is no,
// whatever the other signals say.
func (p *RetryPolicy) Decide(responseText string, toolResults []gateway.ToolCallResult, attemptIndex int, previous *RetryContext) Decision {
	if attemptIndex >= p.MaxAttempts {
		return Decision{ShouldRetry: false}
	}

	trimmed := strings.TrimSpace(responseText)
	reason, retry := p.evaluate(trimmed, toolResults, previous)
	if !retry {
		return Decision{ShouldRetry: false}
	}

	next := &RetryContext{
		Reason:       reason,
		FailedTools:  failedToolSummaries(toolResults),
		ExcludeTools: excludableTools(toolResults),
		AttemptIndex: attemptIndex + 1,
	}
	if reason == ReasonToolFailurePattern && len(next.FailedTools) == 0 && previous != nil {
		// The unresolved pattern came from an earlier attempt; keep its
		// details so the guidance still names the failed tools.
		next.FailedTools = previous.FailedTools
		next.ExcludeTools = previous.ExcludeTools
	}
	next.Guidance = buildGuidance(reason, next)

	return Decision{ShouldRetry: true, Context: next}
}

// evaluate detects the degenerate outcomes worth another attempt.
func (p *RetryPolicy) evaluate(text string, toolResults []gateway.ToolCallResult, previous *RetryContext) (RetryReason, bool) {
	if text == "" {
		return ReasonEmptyResponse, true
	}
	if utf8.RuneCountInString(text) < p.MinResponseLength {
		return ReasonShortResponse, true
	}
	if allFailed(toolResults) {
		return ReasonToolFailurePattern, true
	}
	// A prior tool failure is only resolved by a successful call in its
	// place; text alone does not clear the pattern.
	if previous != nil && previous.Reason == ReasonToolFailurePattern && !anySucceeded(toolResults) {
		return ReasonToolFailurePattern, true
	}
	return "", false
}

func allFailed(results []gateway.ToolCallResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Success {
			return false
		}
	}
	return true
}

func anySucceeded(results []gateway.ToolCallResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// failedToolSummaries collects one error summary per failed tool.
func failedToolSummaries(results []gateway.ToolCallResult) map[string]string {
	failed := make(map[string]string)
	for _, r := range results {
		if !r.Success {
			failed[r.Tool] = r.Error
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failed
}

// excludableTools returns the tools whose failures make retrying with the
// same tool futile. Transient and unknown failures stay eligible.
func excludableTools(results []gateway.ToolCallResult) []string {
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Success {
			continue
		}
		if r.Class == gateway.ErrorClassPermission || r.Class == gateway.ErrorClassInvalidArgs {
			seen[r.Tool] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	excluded := make([]string, 0, len(seen))
	for name := range seen {
		excluded = append(excluded, name)
	}
	sort.Strings(excluded)
	return excluded
}

// buildGuidance composes the hint prepended to the next attempt.
func buildGuidance(reason RetryReason, rc *RetryContext) string {
	switch reason {
	case ReasonEmptyResponse:
		return "Your previous response was empty. Answer the user's message directly in plain text."
	case ReasonShortResponse:
		return "Your previous response was too short to be useful. Give a complete answer."
	case ReasonToolFailurePattern:
		var parts []string
		for _, name := range sortedKeys(rc.FailedTools) {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, rc.FailedTools[name]))
		}
		hint := "Previous tool calls failed: " + strings.Join(parts, "; ") + "."
		if len(rc.ExcludeTools) > 0 {
			hint += " Those tools are no longer available. Answer with what you know."
		} else {
			hint += " Retry with corrected arguments or answer without tools."
		}
		return hint
	default:
		return ""
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildFallbackResponse produces the deterministic, templated answer used
// when every attempt has been exhausted without usable text. It never calls
// a model.
func (p *RetryPolicy) BuildFallbackResponse(rc *RetryContext, originalMessage string) string {
	var sb strings.Builder
	sb.WriteString("I wasn't able to put together a proper answer to that just now.")

	if rc != nil && len(rc.FailedTools) > 0 {
		names := sortedKeys(rc.FailedTools)
		sb.WriteString(fmt.Sprintf(" Some of my tools (%s) ran into trouble.", strings.Join(names, ", ")))
	}

	summary := strings.TrimSpace(originalMessage)
	if runes := []rune(summary); len(runes) > 80 {
		summary = string(runes[:77]) + "..."
	}
	if summary != "" {
		sb.WriteString(fmt.Sprintf(" You asked: %q.", summary))
	}
	sb.WriteString(" Please try again in a moment, or rephrase the request.")
	return sb.String()
}
