package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// OllamaProvider implements the Provider interface for a local Ollama server.
type OllamaProvider struct {
	baseProvider
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		baseProvider: newBaseProvider(cfg, "ollama"),
	}
}

// Available checks whether the Ollama server is reachable. Ollama needs no
// API key, so reachability is the whole check.
func (p *OllamaProvider) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Chat sends a chat request to Ollama.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	ollamaReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
	}
	if ollamaReq.Model == "" {
		ollamaReq.Model = p.config.Model
	}

	if req.SystemPrompt != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{
			Role:    RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		m := ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		ollamaReq.Messages = append(ollamaReq.Messages, m)
	}

	for _, tool := range req.Tools {
		ollamaReq.Tools = append(ollamaReq.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	ollamaReq.Options = &ollamaOptions{
		Temperature: temperature,
		NumPredict:  maxTokens,
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Ollama does not assign call IDs; generate them so results can be
	// re-attached the same way as with cloud providers.
	var toolCalls []ToolCall
	for _, call := range ollamaResp.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	return &ChatResponse{
		Content:          ollamaResp.Message.Content,
		Model:            ollamaResp.Model,
		PromptTokens:     ollamaResp.PromptEvalCount,
		CompletionTokens: ollamaResp.EvalCount,
		TokensUsed:       ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     finishReason,
		ToolCalls:        toolCalls,
	}, nil
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
