package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
)

// ===========================================================================
// MEMORY TOOLS
// ===========================================================================

// RecallTool searches the user's conversation history for relevant excerpts.
type RecallTool struct {
	store *memory.Store
	limit int
}

// NewRecallTool creates a recall tool over the given store.
func NewRecallTool(store *memory.Store, limit int) *RecallTool {
	if limit <= 0 {
		limit = 5
	}
	return &RecallTool{store: store, limit: limit}
}

func (t *RecallTool) Name() string { return "recall_memory" }

func (t *RecallTool) Description() string {
	return "Search past conversations for excerpts relevant to a query. Use when the user refers to something discussed before."
}

func (t *RecallTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keywords describing what to look for"}
		},
		"required": ["query"]
	}`)
}

func (t *RecallTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &InvalidArgumentsError{Reason: fmt.Sprintf("parse arguments: %v", err)}
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", &InvalidArgumentsError{Reason: "query cannot be empty"}
	}

	excerpts, err := t.store.SearchExcerpts(ctx, userID, query, t.limit)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	if len(excerpts) == 0 {
		return "No matching conversation excerpts found.", nil
	}

	var sb strings.Builder
	sb.WriteString("<memory_excerpts>\n")
	for _, e := range excerpts {
		sb.WriteString(fmt.Sprintf("  <excerpt role=%q date=%q>%s</excerpt>\n",
			e.Role, e.CreatedAt.Format("2006-01-02"), escapeXML(e.Content)))
	}
	sb.WriteString("</memory_excerpts>")
	return sb.String(), nil
}

// RememberFactTool stores a durable fact about the user.
type RememberFactTool struct {
	store *memory.Store
}

// NewRememberFactTool creates a fact-storage tool over the given store.
func NewRememberFactTool(store *memory.Store) *RememberFactTool {
	return &RememberFactTool{store: store}
}

func (t *RememberFactTool) Name() string { return "remember_fact" }

func (t *RememberFactTool) Description() string {
	return "Store a durable fact about the user, such as a preference or personal detail, for use in future conversations."
}

func (t *RememberFactTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"fact": {"type": "string", "description": "The fact to remember, stated in one sentence"}
		},
		"required": ["fact"]
	}`)
}

func (t *RememberFactTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var params struct {
		Fact string `json:"fact"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &InvalidArgumentsError{Reason: fmt.Sprintf("parse arguments: %v", err)}
	}
	fact := strings.TrimSpace(params.Fact)
	if fact == "" {
		return "", &InvalidArgumentsError{Reason: "fact cannot be empty"}
	}

	if err := t.store.SaveFact(ctx, userID, fact, "tool"); err != nil {
		return "", &TransientError{Err: err}
	}
	return fmt.Sprintf("Remembered: %s", fact), nil
}
