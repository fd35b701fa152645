// Package gateway is the single entry point for tool execution. It holds
// the tool registry, exposes per-user tool schemas, and guarantees that
// every tool call request produces exactly one classified result.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// CallSource records how a tool call was obtained from the model.
type CallSource string

const (
	// SourceStructured means the provider returned a native tool call.
	SourceStructured CallSource = "structured"
	// SourceText means the call was extracted from the response text.
	SourceText CallSource = "text"
)

// ToolCallRequest is a single tool invocation requested by the model.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Source    CallSource      `json:"source"`
}

// ToolCallResult is the outcome of one tool call. A result exists for every
// request, failed or not.
type ToolCallResult struct {
	CallID   string        `json:"call_id"`
	Tool     string        `json:"tool"`
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Class    ErrorClass    `json:"error_class,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Tool is a capability the model may invoke.
type Tool interface {
	// Name returns the tool identifier the model calls it by.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters returns a JSON Schema object describing the arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. Errors should be typed (PermissionError,
	// InvalidArgumentsError, TransientError) when the cause is known.
	Execute(ctx context.Context, userID string, args json.RawMessage) (string, error)
}

// Gateway owns the tool registry and executes calls with a per-call timeout.
type Gateway struct {
	log     *logging.Logger
	timeout time.Duration

	mu      sync.RWMutex
	tools   map[string]Tool
	enabled map[string]map[string]bool // userID -> enabled tool names; absent user = all tools
}

// New creates a gateway with the given per-call timeout.
func New(timeout time.Duration) *Gateway {
	return &Gateway{
		log:     logging.Global().WithComponent("gateway"),
		timeout: timeout,
		tools:   make(map[string]Tool),
		enabled: make(map[string]map[string]bool),
	}
}

// Register adds a tool to the registry. Later registrations with the same
// name replace earlier ones.
func (g *Gateway) Register(tool Tool) {
	g.mu.Lock()
	g.tools[tool.Name()] = tool
	g.mu.Unlock()
	g.log.Debug("registered tool %s", tool.Name())
}

// SetEnabledTools restricts a user to an explicit tool set. Users without
// an entry get every registered tool.
func (g *Gateway) SetEnabledTools(userID string, toolNames ...string) {
	set := make(map[string]bool, len(toolNames))
	for _, name := range toolNames {
		set[name] = true
	}
	g.mu.Lock()
	g.enabled[userID] = set
	g.mu.Unlock()
}

// allowed reports whether a user may call a tool.
func (g *Gateway) allowed(userID, toolName string) bool {
	set, ok := g.enabled[userID]
	if !ok {
		return true
	}
	return set[toolName]
}

// SchemasFor returns the tool schemas available to a user, minus any names
// in exclude. The orchestrator passes its per-conversation exclusion set
// here so a tool that failed with a permission or invalid-arguments error
// is not offered to the model again.
func (g *Gateway) SchemasFor(userID string, exclude map[string]bool) []llm.ToolSchema {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var schemas []llm.ToolSchema
	for name, tool := range g.tools {
		if !g.allowed(userID, name) {
			continue
		}
		if exclude[name] {
			continue
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return schemas
}

// Execute runs one tool call and always returns a result: unknown tools,
// permission failures, timeouts, and panics all come back as classified
// failed results rather than errors or crashes.
func (g *Gateway) Execute(ctx context.Context, userID string, req ToolCallRequest) ToolCallResult {
	start := time.Now()

	result := ToolCallResult{
		CallID: req.ID,
		Tool:   req.Name,
	}

	g.mu.RLock()
	tool, exists := g.tools[req.Name]
	allowed := g.allowed(userID, req.Name)
	g.mu.RUnlock()

	if !exists {
		result.Error = fmt.Sprintf("unknown tool %q", req.Name)
		result.Class = ErrorClassInvalidArgs
		result.Duration = time.Since(start)
		return result
	}

	if !allowed {
		result.Error = fmt.Sprintf("tool %q not enabled for user", req.Name)
		result.Class = ErrorClassPermission
		result.Duration = time.Since(start)
		return result
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	output, err := g.run(callCtx, tool, userID, req.Arguments)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		result.Class = Classify(err)
		g.log.Warn("tool %s failed (%s): %v", req.Name, result.Class, err)
		return result
	}

	result.Success = true
	result.Output = output
	g.log.Debug("tool %s completed in %v", req.Name, result.Duration)
	return result
}

// run invokes the tool, converting panics into errors.
func (g *Gateway) run(ctx context.Context, tool Tool, userID string, args json.RawMessage) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, userID, args)
}
