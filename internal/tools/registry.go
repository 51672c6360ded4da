package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// ExternalToolExecutor defines the interface for executing external tools.
type ExternalToolExecutor interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any) (any, error)
}

// ErrReservedName is returned when a tool would take a name held by the server itself.
var ErrReservedName = errors.New("tool name is reserved")

// Registry manages all available tools and their execution.
type Registry struct {
	mu                sync.RWMutex
	tools             map[string]*Tool
	reserved          map[string]bool
	externalExecutors map[string]ExternalToolExecutor // Map of source name -> executor
	logger            *slog.Logger
}

// NewRegistry creates a new tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:             make(map[string]*Tool),
		reserved:          make(map[string]bool),
		externalExecutors: make(map[string]ExternalToolExecutor),
		logger:            logger,
	}
}

// Reserve blocks names from registration. Tools already registered under a
// reserved name are removed and returned.
func (r *Registry) Reserve(names ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for _, name := range names {
		r.reserved[name] = true
		if _, exists := r.tools[name]; exists {
			delete(r.tools, name)
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// IsReserved reports whether name is blocked from registration.
func (r *Registry) IsReserved(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reserved[name]
}

// RegisterExternalExecutor registers an executor for external tools from a specific source.
func (r *Registry) RegisterExternalExecutor(sourceName string, executor ExternalToolExecutor) {
	r.mu.Lock()
	r.externalExecutors[sourceName] = executor
	r.mu.Unlock()
	r.logger.Info("Registered external tool executor", "source", sourceName)
}

// RegisterExternalTool registers a tool from an upstream MCP server.
func (r *Registry) RegisterExternalTool(sourceName, category, toolName, description string, inputSchema map[string]any) error {
	// Prefix tool name with server name to avoid conflicts
	prefixedName := sourceName + "_" + toolName

	return r.Register(&Tool{
		Name:        prefixedName,
		Category:    category,
		Description: description,
		Source:      SourceExternal,
		SourceName:  sourceName,
		InputSchema: inputSchema,
	})
}

// Register validates a tool and adds it to the registry.
func (r *Registry) Register(tool *Tool) error {
	if err := validate(tool); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reserved[tool.Name] {
		return fmt.Errorf("%w: %s", ErrReservedName, tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}

	r.tools[tool.Name] = tool
	r.logger.Debug("Registered tool", "name", tool.Name, "category", tool.Category, "source", tool.Source)
	return nil
}

func validate(tool *Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if strings.TrimSpace(tool.Name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	switch tool.Source {
	case SourceInternal:
		if tool.Handler == nil {
			return fmt.Errorf("tool handler cannot be nil for internal tools")
		}
	case SourceExternal:
		if tool.SourceName == "" {
			return fmt.Errorf("source name cannot be empty for external tools")
		}
		if tool.Handler != nil {
			return fmt.Errorf("external tool %s cannot have a handler", tool.Name)
		}
	default:
		return fmt.Errorf("unknown tool source: %q", tool.Source)
	}

	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// Search finds tools whose name or description fuzzy matches query, sorted by name.
func (r *Registry) Search(query, category string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Tool
	for _, tool := range r.tools {
		// Filter by category if specified
		if category != "" && tool.Category != category {
			continue
		}

		if query != "" && !fuzzyMatch(query, tool.Name) && !fuzzyMatch(query, tool.Description) {
			continue
		}

		results = append(results, tool)
	}

	slices.SortFunc(results, func(a, b *Tool) int { return strings.Compare(a.Name, b.Name) })
	return results
}

// Execute runs a tool with the given arguments.
func (r *Registry) Execute(ctx context.Context, toolName string, arguments map[string]any) (*ExecutionResult, error) {
	start := time.Now()

	tool, err := r.Get(toolName)
	if err != nil {
		return &ExecutionResult{
			Success:         false,
			ToolName:        toolName,
			Error:           err.Error(),
			ErrorType:       "tool_not_found",
			Suggestions:     r.suggest(toolName),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	r.logger.InfoContext(ctx, "Executing tool", "name", toolName, "source", tool.Source)

	var result map[string]any
	var execErr error

	switch tool.Source {
	case SourceInternal:
		result, execErr = tool.Handler(ctx, arguments)
	case SourceExternal:
		r.mu.RLock()
		executor, ok := r.externalExecutors[tool.SourceName]
		r.mu.RUnlock()
		if !ok {
			return &ExecutionResult{
				Success:         false,
				ToolName:        toolName,
				Error:           fmt.Sprintf("external executor not found: %s", tool.SourceName),
				ErrorType:       "executor_not_found",
				ExecutionTimeMs: time.Since(start).Milliseconds(),
			}, nil
		}

		// Strip the server name prefix before calling the upstream tool
		originalToolName := strings.TrimPrefix(toolName, tool.SourceName+"_")

		externalResult, err := executor.CallTool(ctx, originalToolName, arguments)
		if err != nil {
			execErr = err
		} else if resultMap, ok := externalResult.(map[string]any); ok {
			result = resultMap
		} else {
			// Wrap non-map results
			result = map[string]any{"result": externalResult}
		}
	}

	executionTime := time.Since(start).Milliseconds()

	if execErr != nil {
		r.logger.ErrorContext(ctx, "Tool execution failed", "name", toolName, "source", tool.Source, "error", execErr)
		return &ExecutionResult{
			Success:         false,
			ToolName:        toolName,
			Error:           execErr.Error(),
			ErrorType:       "execution_error",
			ExecutionTimeMs: executionTime,
		}, nil
	}

	r.logger.InfoContext(ctx, "Tool execution successful", "name", toolName, "execution_time_ms", executionTime)

	return &ExecutionResult{
		Success:         true,
		ToolName:        toolName,
		Result:          result,
		ExecutionTimeMs: executionTime,
	}, nil
}

// suggest returns up to three registered names close to a misspelled one.
func (r *Registry) suggest(toolName string) []string {
	var names []string
	for _, tool := range r.Search(toolName, "") {
		names = append(names, tool.Name)
		if len(names) == 3 {
			break
		}
	}
	return names
}

// ExecuteBatch runs multiple tools in sequence.
func (r *Registry) ExecuteBatch(ctx context.Context, request *BatchExecutionRequest) (*BatchExecutionResult, error) {
	start := time.Now()

	results := make([]ExecutionResult, 0, len(request.Tools))
	successCount := 0
	failedCount := 0

	for _, toolExec := range request.Tools {
		result, err := r.Execute(ctx, toolExec.ToolName, toolExec.Arguments)
		if err != nil {
			return nil, err
		}

		results = append(results, *result)

		if result.Success {
			successCount++
		} else {
			failedCount++
			if !request.ContinueOnError {
				r.logger.WarnContext(ctx, "Stopping batch execution due to error", "tool", toolExec.ToolName)
				break
			}
		}
	}

	return &BatchExecutionResult{
		Results:              results,
		TotalExecutionTimeMs: time.Since(start).Milliseconds(),
		SuccessfulCount:      successCount,
		FailedCount:          failedCount,
	}, nil
}

// ListAll returns all registered tools sorted by name.
func (r *Registry) ListAll() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	slices.SortFunc(tools, func(a, b *Tool) int { return strings.Compare(a.Name, b.Name) })
	return tools
}
