// Package tools holds the functions chat providers may let a model call.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool is a function the model can call. Parameters describes the argument
// object as JSON Schema properties.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	RequiredParameters() []string
	// Execute performs the actual tool logic using the provided argument map.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a tool execution.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	Details map[string]any `json:"details,omitempty"`
}

// ContentBlock is one piece of a ToolResult.
type ContentBlock struct {
	Type string `json:"type"` // only "text" is sent back to the model
	Text string `json:"text,omitempty"`
}

// Text joins the text blocks of the result.
func (r *ToolResult) Text() string {
	if r == nil {
		return "(No output)"
	}
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return "(No output)"
	}
	return strings.Join(parts, "\n")
}

// TextResult is a single-block result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// Schema returns the JSON Schema object for the tool's arguments.
func Schema(t Tool) map[string]any {
	props := t.Parameters()
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := t.RequiredParameters(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

// ToolRegistry acts as a central inventory for all tools available to the
// chat providers.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (tr *ToolRegistry) Register(tool Tool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tools[tool.Name()] = tool
}

func (tr *ToolRegistry) Unregister(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.tools, name)
}

func (tr *ToolRegistry) Get(name string) (Tool, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tool, ok := tr.tools[name]
	return tool, ok
}

// GetAll returns the registered tools sorted by name.
func (tr *ToolRegistry) GetAll() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tools := make([]Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		tools = append(tools, tool)
	}
	slices.SortFunc(tools, func(a, b Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return tools
}

func (tr *ToolRegistry) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tools)
}

// Call resolves and runs one tool call from the model. rawArgs is the JSON
// argument object as the model produced it. Failures come back as text for
// the model to read, never as an error.
func (tr *ToolRegistry) Call(ctx context.Context, name, rawArgs string) (out string) {
	cleanName := strings.TrimPrefix(name, "functions.")

	tool, ok := tr.Get(cleanName)
	if !ok {
		slog.ErrorContext(ctx, "Unknown tool call", "name", name)
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			slog.ErrorContext(ctx, "Failed to parse tool args", "name", cleanName, "error", err)
			return fmt.Sprintf("Error: Failed to parse tool arguments: %v", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "name", cleanName, "error", r)
			out = "Error: Internal processing panic"
		}
	}()

	slog.InfoContext(ctx, "Executing tool", "name", cleanName, "args", args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		slog.ErrorContext(ctx, "Tool execution error", "name", cleanName, "error", err)
		return fmt.Sprintf("Error: Tool execution failed: %v", err)
	}
	return res.Text()
}
