// ABOUTME: Tool registry exposing name/description/schema and direct execution
// ABOUTME: Tools are registered at startup and invoked with raw JSON arguments

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotFound indicates an unknown tool name.
var ErrNotFound = errors.New("tool not found")

// Definition describes a tool to clients and to the agent loop.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Handler executes a tool with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// ExecuteResult is the outcome of one tool invocation. Handler failures are
// reported in-band rather than as transport errors.
type ExecuteResult struct {
	Result     json.RawMessage `json:"result"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Registry holds the gateway's native tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(tool *Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Definition.Name)
	}

	r.mu.Lock()
	r.tools[tool.Definition.Name] = tool
	r.mu.Unlock()

	r.logger.Debug("tool registered", "tool", tool.Definition.Name)
	return nil
}

// List returns all tool definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get returns a tool's definition. Returns ErrNotFound for unknown names.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	def := tool.Definition
	return &def, nil
}

// Execute invokes a tool by name. Unknown names return ErrNotFound; handler
// failures are reported inside the result with Success=false.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*ExecuteResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	start := time.Now()
	output, err := tool.Handler(ctx, args)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return &ExecuteResult{
			Success:    false,
			Error:      err.Error(),
			DurationMS: duration,
		}, nil
	}

	return &ExecuteResult{
		Result:     output,
		Success:    true,
		DurationMS: duration,
	}, nil
}
