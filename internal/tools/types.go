package tools

import (
	"context"
)

// ToolSource indicates where a tool is implemented
type ToolSource string

const (
	SourceInternal ToolSource = "internal" // Built-in tools with a Go handler
	SourceExternal ToolSource = "external" // Tools served by an upstream MCP server
)

// ToolHandler represents a function that handles tool execution
type ToolHandler func(context.Context, map[string]any) (map[string]any, error)

// Tool is an invocable capability: a name/description contract plus exactly one way to run it.
// Internal tools carry a Handler, external tools name the upstream server in SourceName.
type Tool struct {
	Name        string         // Unique tool name, also the tool memory identifier
	Category    string         // Category for organizing tools (e.g., "files", "weather")
	Description string         // Tool description
	InputSchema map[string]any // JSON schema for tool parameters
	Handler     ToolHandler    // Handler function for internal tools (nil for external)
	Source      ToolSource     // Where the tool is implemented
	SourceName  string         // Name of upstream MCP server (if external)
}

// Metadata renders the JSON-compatible metadata stored alongside the tool's embedding.
func (t *Tool) Metadata() map[string]any {
	metadata := map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"source":      string(t.Source),
	}
	if t.Category != "" {
		metadata["category"] = t.Category
	}
	if t.SourceName != "" {
		metadata["source_name"] = t.SourceName
	}
	if len(t.InputSchema) > 0 {
		metadata["parameters"] = t.InputSchema
	}
	return metadata
}

// ExecutionResult represents the result of a tool execution.
type ExecutionResult struct {
	Success         bool           `json:"success"`
	ToolName        string         `json:"tool_name"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorType       string         `json:"error_type,omitempty"`
	Suggestions     []string       `json:"suggestions,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

// BatchExecutionRequest represents a request to execute multiple tools.
type BatchExecutionRequest struct {
	Tools           []ToolExecution `json:"tools"`
	ContinueOnError bool            `json:"continue_on_error"`
}

// ToolExecution represents a single tool execution request.
type ToolExecution struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// BatchExecutionResult represents the result of a batch execution.
type BatchExecutionResult struct {
	Results              []ExecutionResult `json:"results"`
	TotalExecutionTimeMs int64             `json:"total_execution_time_ms"`
	SuccessfulCount      int               `json:"successful_count"`
	FailedCount          int               `json:"failed_count"`
}
