package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weatherSchema = json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)

func TestOpenAIChatWithToolCalls(t *testing.T) {
	var captured openAIChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(&ProviderConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "gpt-4o-mini",
	})

	resp, err := provider.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You are helpful.",
		Messages:     []Message{{Role: RoleUser, Content: "Weather in Paris?"}},
		Tools: []ToolSchema{{
			Name:        "get_weather",
			Description: "Look up current weather",
			Parameters:  weatherSchema,
		}},
	})
	require.NoError(t, err)

	// Tools went out on the wire.
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "get_weather", captured.Tools[0].Function.Name)
	// System prompt became the first message.
	require.NotEmpty(t, captured.Messages)
	assert.Equal(t, RoleSystem, captured.Messages[0].Role)

	// Structured tool call came back.
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 15, resp.TokensUsed)
}

func TestOpenAIToolResultRoundTrip(t *testing.T) {
	var captured openAIChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		io.WriteString(w, `{
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "It is sunny."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 4, "total_tokens": 24}
		}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "k"})

	_, err := provider.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "Weather in Paris?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}}},
			{Role: RoleTool, ToolCallID: "call_1", Content: `{"temp_c":21}`},
		},
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "call_1", captured.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, captured.Messages[2].Role)
	assert.Equal(t, "call_1", captured.Messages[2].ToolCallID)
}

func TestAnthropicChatWithToolCalls(t *testing.T) {
	var captured anthropicChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		io.WriteString(w, `{
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Paris"}}
			],
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`)
	}))
	defer server.Close()

	provider := NewAnthropicProvider(&ProviderConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
	})

	resp, err := provider.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You are helpful.",
		Messages:     []Message{{Role: RoleUser, Content: "Weather in Paris?"}},
		Tools:        []ToolSchema{{Name: "get_weather", Description: "Look up weather", Parameters: weatherSchema}},
	})
	require.NoError(t, err)

	assert.Equal(t, "You are helpful.", captured.System)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "get_weather", captured.Tools[0].Name)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Paris"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 20, resp.TokensUsed)
}

func TestAnthropicToolResultBecomesUserBlock(t *testing.T) {
	var captured anthropicChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		io.WriteString(w, `{
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "21C and sunny."}],
			"usage": {"input_tokens": 30, "output_tokens": 6}
		}`)
	}))
	defer server.Close()

	provider := NewAnthropicProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "k"})

	_, err := provider.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "Weather in Paris?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "toolu_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}}},
			{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"temp_c":21}`},
		},
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "user", captured.Messages[2].Role)
	require.Len(t, captured.Messages[2].Content, 1)
	assert.Equal(t, "tool_result", captured.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", captured.Messages[2].Content[0].ToolUseID)
}

func TestOllamaChatGeneratesCallIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		io.WriteString(w, `{
			"model": "llama3.2",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "get_weather", "arguments": {"city": "Paris"}}}]
			},
			"done": true,
			"prompt_eval_count": 9,
			"eval_count": 3
		}`)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Model: "llama3.2"})

	resp, err := provider.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Weather in Paris?"}},
		Tools:    []ToolSchema{{Name: "get_weather", Parameters: weatherSchema}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.NotEmpty(t, resp.ToolCalls[0].ID, "ollama calls must get synthetic IDs")
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestProviderReturnsAPIErrorOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "overloaded")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "k"})

	_, err := provider.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.True(t, IsTransportError(err))
}

func TestDefaultConfigPerProvider(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"ollama", "http://127.0.0.1:11434"},
		{"openai", "https://api.openai.com/v1"},
		{"anthropic", "https://api.anthropic.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(tt.name)
			assert.Equal(t, tt.endpoint, cfg.Endpoint)
			assert.NotZero(t, cfg.MaxTokens)
			assert.NotZero(t, cfg.Timeout)
		})
	}
}
