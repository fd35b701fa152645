package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	baseProvider
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg *ProviderConfig) *AnthropicProvider {
	return &AnthropicProvider{
		baseProvider: newBaseProvider(cfg, "anthropic"),
	}
}

// Chat sends a chat request to Anthropic.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}

	start := time.Now()

	anthropicReq := anthropicChatRequest{
		Model: req.Model,
	}
	if anthropicReq.Model == "" {
		anthropicReq.Model = p.config.Model
	}

	if req.SystemPrompt != "" {
		anthropicReq.System = req.SystemPrompt
	}

	msgs, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	anthropicReq.Messages = msgs

	for _, tool := range req.Tools {
		anthropicReq.Tools = append(anthropicReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	anthropicReq.MaxTokens = req.MaxTokens
	if anthropicReq.MaxTokens == 0 {
		anthropicReq.MaxTokens = p.config.MaxTokens
	}
	anthropicReq.Temperature = req.Temperature
	if anthropicReq.Temperature == 0 {
		anthropicReq.Temperature = p.config.Temperature
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var anthropicResp anthropicChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	var toolCalls []ToolCall
	for _, block := range anthropicResp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return &ChatResponse{
		Content:          content,
		Model:            anthropicResp.Model,
		PromptTokens:     anthropicResp.Usage.InputTokens,
		CompletionTokens: anthropicResp.Usage.OutputTokens,
		TokensUsed:       anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		Duration:         time.Since(start),
		FinishReason:     anthropicResp.StopReason,
		ToolCalls:        toolCalls,
	}, nil
}

// toAnthropicMessages converts neutral messages to Anthropic's content-block
// format. Assistant tool calls become tool_use blocks; tool results become
// tool_result blocks inside a user message.
func toAnthropicMessages(messages []Message) ([]anthropicMessage, error) {
	var out []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})

		case RoleTool:
			if msg.ToolCallID == "" {
				return nil, fmt.Errorf("tool message missing tool_call_id")
			}
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		default:
			out = append(out, anthropicMessage{
				Role:    msg.Role,
				Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	return out, nil
}

// Anthropic API types
type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicChatResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
