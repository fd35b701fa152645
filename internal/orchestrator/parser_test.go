package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
)

func TestExtractStructuredCallsWin(t *testing.T) {
	resp := &llm.ChatResponse{
		Content: `Ignoring this: <tool>web_search</tool><params>{"query":"x"}</params>`,
		ToolCalls: []llm.ToolCall{
			{ID: "call_abc", Name: "recall_memory", Arguments: json.RawMessage(`{"query":"trip"}`)},
		},
	}

	requests, text := extractToolCalls(resp)
	require.Len(t, requests, 1)
	assert.Equal(t, "call_abc", requests[0].ID)
	assert.Equal(t, "recall_memory", requests[0].Name)
	assert.Equal(t, gateway.SourceStructured, requests[0].Source)
	// With structured calls present, the text is passed through untouched.
	assert.Equal(t, resp.Content, text)
}

func TestParseTextToolCalls(t *testing.T) {
	text := `Let me check that for you.
<tool>web_search</tool><params>{"query": "go 1.25 release notes"}</params>
One moment.`

	requests, cleaned := parseTextToolCalls(text)
	require.Len(t, requests, 1)
	assert.Equal(t, "web_search", requests[0].Name)
	assert.Equal(t, gateway.SourceText, requests[0].Source)
	assert.NotEmpty(t, requests[0].ID)
	assert.JSONEq(t, `{"query": "go 1.25 release notes"}`, string(requests[0].Arguments))
	assert.NotContains(t, cleaned, "<tool>")
	assert.Contains(t, cleaned, "Let me check that for you.")
}

func TestParseTextToolCallsMultiple(t *testing.T) {
	text := `<tool>web_search</tool><params>{"query":"a"}</params>` +
		`<tool>recall_memory</tool><params>{"query":"b"}</params>`

	requests, cleaned := parseTextToolCalls(text)
	require.Len(t, requests, 2)
	assert.Equal(t, "web_search", requests[0].Name)
	assert.Equal(t, "recall_memory", requests[1].Name)
	assert.Empty(t, cleaned)

	// Synthesized IDs are distinct so results re-attach unambiguously.
	assert.NotEqual(t, requests[0].ID, requests[1].ID)
}

func TestParseTextToolCallsMalformedParams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing bracket", `<tool>t</tool><params>{"q":"x"}></params>`, `{"q":"x"}`},
		{"noise around object", `<tool>t</tool><params>json: {"q":"x"} end</params>`, `{"q":"x"}`},
		{"hopeless", `<tool>t</tool><params>not json at all</params>`, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests, _ := parseTextToolCalls(tt.in)
			require.Len(t, requests, 1)
			assert.JSONEq(t, tt.want, string(requests[0].Arguments))
		})
	}
}

func TestParseTextToolCallsUnclosedTagIsPlainText(t *testing.T) {
	text := "I ran the command. <tool>web_search"
	requests, cleaned := parseTextToolCalls(text)
	assert.Empty(t, requests)
	assert.Equal(t, text, cleaned)
}
