package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOOL CALL EXTRACTION
// ═══════════════════════════════════════════════════════════════════════════════

// extractToolCalls turns a model response into gateway requests. Structured
// tool calls from the provider win; when there are none, the response text
// is scanned for <tool>name</tool><params>{...}</params> fragments, a
// recovery path for models that narrate tool calls instead of emitting them.
// Returns the requests and the response text with any parsed fragments
// removed.
func extractToolCalls(resp *llm.ChatResponse) ([]gateway.ToolCallRequest, string) {
	if len(resp.ToolCalls) > 0 {
		requests := make([]gateway.ToolCallRequest, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			requests = append(requests, gateway.ToolCallRequest{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Source:    gateway.SourceStructured,
			})
		}
		return requests, resp.Content
	}

	return parseTextToolCalls(resp.Content)
}

// parseTextToolCalls scans response text for the canonical tagged format.
// Malformed params degrade to an empty JSON object so the gateway can
// reject them with a proper invalid-arguments result.
func parseTextToolCalls(response string) ([]gateway.ToolCallRequest, string) {
	var requests []gateway.ToolCallRequest
	cleaned := response

	for {
		toolStart := strings.Index(cleaned, "<tool>")
		if toolStart == -1 {
			break
		}
		toolEnd := strings.Index(cleaned[toolStart:], "</tool>")
		if toolEnd == -1 {
			break
		}
		toolEnd += toolStart

		paramsStart := strings.Index(cleaned[toolEnd:], "<params>")
		if paramsStart == -1 {
			break
		}
		paramsStart += toolEnd

		paramsEnd := strings.Index(cleaned[paramsStart:], "</params>")
		if paramsEnd == -1 {
			break
		}
		paramsEnd += paramsStart

		name := strings.TrimSpace(cleaned[toolStart+len("<tool>") : toolEnd])
		paramsJSON := strings.TrimSpace(cleaned[paramsStart+len("<params>") : paramsEnd])

		// Models sometimes leak stray brackets around the JSON.
		paramsJSON = strings.TrimSuffix(paramsJSON, ">")
		paramsJSON = strings.TrimPrefix(paramsJSON, "<")

		requests = append(requests, gateway.ToolCallRequest{
			ID:        "call_" + uuid.NewString(),
			Name:      name,
			Arguments: normalizeParams(paramsJSON),
			Source:    gateway.SourceText,
		})

		cleaned = cleaned[:toolStart] + cleaned[paramsEnd+len("</params>"):]
	}

	return requests, strings.TrimSpace(cleaned)
}

// normalizeParams salvages a JSON object from noisy param text.
func normalizeParams(paramsJSON string) json.RawMessage {
	if json.Valid([]byte(paramsJSON)) && strings.HasPrefix(strings.TrimSpace(paramsJSON), "{") {
		return json.RawMessage(paramsJSON)
	}
	if start := strings.Index(paramsJSON, "{"); start >= 0 {
		if end := strings.LastIndex(paramsJSON, "}"); end > start {
			candidate := paramsJSON[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate)
			}
		}
	}
	return json.RawMessage("{}")
}
