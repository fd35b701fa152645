// Package llm provides language model provider implementations for the
// assistant backend. Supports Ollama (local), OpenAI, and Anthropic, all
// with native tool calling.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// MaxErrorBodySize limits how much error response body we read (1MB).
// This prevents memory exhaustion from malformed/malicious error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a conversation and returns the model's response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSchema describes a tool the model may call. Parameters is a JSON
// Schema object describing the tool's arguments.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a structured tool invocation emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message represents a conversation message. Assistant messages may carry
// ToolCalls; tool result messages carry Role "tool" and the ToolCallID they
// answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the model's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// Tools the model may call this turn.
	Tools []ToolSchema `json:"tools,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// ChatResponse contains the model's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (ollama, openai, anthropic).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "llama3.2",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "openai":
		return &ProviderConfig{
			Name:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "anthropic":
		return &ProviderConfig{
			Name:        "anthropic",
			Endpoint:    "https://api.anthropic.com",
			Model:       "claude-3-5-sonnet-20241022",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// BASE PROVIDER (DRY helper for HTTP-based providers)
// ═══════════════════════════════════════════════════════════════════════════════

// baseProvider provides common functionality for HTTP-based LLM providers.
type baseProvider struct {
	config *ProviderConfig
	client *http.Client
}

// newBaseProvider creates a new base provider with defaults applied.
func newBaseProvider(cfg *ProviderConfig, providerName string) baseProvider {
	if cfg == nil {
		cfg = DefaultConfig(providerName)
	}

	defaults := DefaultConfig(providerName)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.Name = providerName

	return baseProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available checks if the API key is configured.
func (b *baseProvider) Available() bool {
	return b.config.APIKey != ""
}
