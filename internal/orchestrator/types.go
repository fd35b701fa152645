// Package orchestrator drives a single conversation turn end to end:
// context assembly, the bounded tool-calling loop, the retry policy across
// attempts, provider fallback, and detached post-processing.
package orchestrator

import (
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is an incoming user message plus its conversation context.
// Immutable once created.
type ChatRequest struct {
	RequestID      string `json:"request_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	History        []Turn `json:"history,omitempty"`
}

// AttemptState is the outcome of one pass through the tool-calling loop.
// A fresh state is created per attempt; results are retained at the outer
// level for diagnostics.
type AttemptState struct {
	ResponseText   string
	ToolResults    []gateway.ToolCallResult
	Iterations     int
	BreakerTripped bool
	TokensUsed     int
	Model          string
}

// RetryReason says why the retry policy asked for another attempt.
type RetryReason string

const (
	ReasonEmptyResponse      RetryReason = "empty_response"
	ReasonShortResponse      RetryReason = "short_response"
	ReasonToolFailurePattern RetryReason = "tool_failure_pattern"
)

// RetryContext carries the policy's instructions for the next attempt.
// At most one is live per request; a new decision replaces the old one.
type RetryContext struct {
	Reason       RetryReason
	FailedTools  map[string]string // tool name -> error summary
	ExcludeTools []string          // tools to drop from the next attempt's schema set
	Guidance     string            // hint prepended to the next attempt's messages
	AttemptIndex int
}

// OrchestrationResult is the terminal artifact of a turn.
type OrchestrationResult struct {
	RequestID     string                   `json:"request_id"`
	Response      string                   `json:"response"`
	Success       bool                     `json:"success"`
	Degraded      bool                     `json:"degraded"`
	RetryAttempts int                      `json:"retry_attempts"`
	ToolResults   []gateway.ToolCallResult `json:"tool_results,omitempty"`
	Model         string                   `json:"model,omitempty"`
	TokensUsed    int                      `json:"tokens_used,omitempty"`
	Duration      time.Duration            `json:"duration"`
}
