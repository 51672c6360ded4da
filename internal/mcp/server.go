package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/radutopala/toolsee/internal/mcpclient"
	"github.com/radutopala/toolsee/internal/selector"
	"github.com/radutopala/toolsee/internal/toolmemory"
	"github.com/radutopala/toolsee/internal/tools"
)

const (
	searchToolsName = "search_tools"
	executeToolName = "execute_tool"
)

const (
	detailNames    = "names_only"
	detailSummary  = "summary"
	detailDetailed = "detailed"
)

// Options configures a Server.
type Options struct {
	Name     string
	Version  string
	Selector selector.Options // Defaults for search_tools
	TextKeys []string         // Metadata keys embedded at ingestion, nil means name and description
}

// Server exposes tool selection over MCP. search_tools picks the tools relevant to
// a query and activates them as regular MCP tools; execute_tool runs an active tool by name.
type Server struct {
	server          *mcp.Server
	logger          *slog.Logger
	registry        *tools.Registry
	memory          *toolmemory.Memory
	active          *tools.ActiveSet
	options         Options
	externalClients map[string]*mcpclient.Client
}

// NewServer creates a server over registry and memory and registers the meta-tools.
func NewServer(opts Options, registry *tools.Registry, memory *toolmemory.Memory, logger *slog.Logger) *Server {
	if opts.Selector.TopK < 1 {
		opts.Selector.TopK = selector.DefaultTopK
	}

	s := &Server{
		server:          mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil),
		logger:          logger,
		registry:        registry,
		memory:          memory,
		options:         opts,
		externalClients: make(map[string]*mcpclient.Client),
	}
	for _, name := range registry.Reserve(searchToolsName, executeToolName) {
		logger.Warn("Dropped registered tool shadowing a meta-tool", "name", name)
	}
	s.active = tools.NewActiveSet(registry, &serverSink{s: s}, logger)
	s.registerMetaTools()
	return s
}

// maxConcurrentConnects bounds how many upstream servers are dialed at once.
const maxConcurrentConnects = 4

type upstream struct {
	client *mcpclient.Client
	tools  []mcpclient.RemoteTool
}

// ConnectExternalServers connects every enabled upstream server and registers its tools.
// Servers are dialed concurrently and registered in name order. A server that fails
// to connect is logged and skipped.
func (s *Server) ConnectExternalServers(ctx context.Context, servers map[string]mcpclient.ServerConfig) {
	if len(servers) == 0 {
		s.logger.Info("No external servers configured")
		return
	}

	var names []string
	for _, name := range slices.Sorted(maps.Keys(servers)) {
		if !servers[name].Enabled {
			s.logger.Info("Skipping disabled external server", "name", name)
			continue
		}
		names = append(names, name)
	}

	connected := make([]*upstream, len(names))
	var g errgroup.Group
	g.SetLimit(maxConcurrentConnects)
	for i, name := range names {
		g.Go(func() error {
			up, err := dialExternalServer(ctx, name, servers[name], s.logger)
			if err != nil {
				s.logger.Error("Failed to connect external server", "name", name, "error", err)
				return nil
			}
			connected[i] = up
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		if connected[i] != nil {
			s.registerExternalServer(name, servers[name], connected[i])
		}
	}

	s.logger.Info("Initialized external servers", "count", len(s.externalClients))
}

func dialExternalServer(ctx context.Context, name string, config mcpclient.ServerConfig, logger *slog.Logger) (*upstream, error) {
	client, err := mcpclient.Connect(ctx, name, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	remoteTools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return &upstream{client: client, tools: remoteTools}, nil
}

func (s *Server) registerExternalServer(name string, config mcpclient.ServerConfig, up *upstream) {
	s.registry.RegisterExternalExecutor(name, up.client)

	category := config.Category
	if category == "" {
		category = name
	}
	for _, tool := range up.tools {
		if err := s.registry.RegisterExternalTool(name, category, tool.Name, tool.Description, tool.InputSchema); err != nil {
			s.logger.Warn("Failed to register external tool", "server", name, "tool", tool.Name, "error", err)
		}
	}

	s.externalClients[name] = up.client
	s.logger.Info("Registered upstream tools", "name", name, "tools", len(up.tools))
}

// Ingest embeds registry tools into the tool memory. A stored tool is skipped
// unless reembed is set, its metadata changed, or its embedding dimension differs
// from what the provider produces now. Returns the number of tools embedded.
func (s *Server) Ingest(ctx context.Context, reembed bool) (int, error) {
	dimension := 0
	if !reembed && s.memory.Len() > 0 {
		d, err := s.memory.Dimension(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to ingest tools: %w", err)
		}
		dimension = d
	}

	var records []toolmemory.ToolRecord
	resized := 0
	for _, tool := range s.registry.ListAll() {
		metadata := tool.Metadata()
		if !reembed {
			if s.memory.Current(tool.Name, metadata, dimension) {
				continue
			}
			if entry, ok := s.memory.Get(tool.Name); ok {
				if len(entry.Embedding) != dimension {
					resized++
				} else {
					s.logger.Info("Tool metadata changed, re-embedding", "name", tool.Name)
				}
			}
		}
		records = append(records, toolmemory.ToolRecord{ID: tool.Name, Metadata: metadata})
	}
	if resized > 0 {
		s.logger.Warn("Stored embeddings do not match the provider dimension, re-embedding", "tools", resized, "dimension", dimension)
	}

	if len(records) == 0 {
		s.logger.Info("Tool memory up to date", "stored_tools", s.memory.Len())
		return 0, nil
	}

	if err := s.memory.Add(ctx, records, s.options.TextKeys); err != nil {
		return 0, fmt.Errorf("failed to ingest tools: %w", err)
	}

	s.logger.Info("Ingested tools into tool memory", "ingested", len(records), "stored_tools", s.memory.Len())
	return len(records), nil
}

// Close shuts down all upstream MCP server connections.
func (s *Server) Close() error {
	for name, client := range s.externalClients {
		if err := client.Close(); err != nil {
			s.logger.Warn("Error closing external client", "name", name, "error", err)
		}
	}
	return nil
}

// Run serves MCP over transport until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// === META-TOOLS REGISTRATION ===

func (s *Server) registerMetaTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        searchToolsName,
		Description: "Find the tools relevant to a task using semantic search. Describe what you want to do in natural language (e.g. 'run tests and report failures'). Matching tools become callable directly and through execute_tool; each search replaces the previous selection for every connected client.",
	}, s.handleSearchTools)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        executeToolName,
		Description: "Execute a tool selected by the last search_tools call, by name with arguments.",
	}, s.handleExecuteTool)
}

// === META-TOOL HANDLERS ===

// SearchToolsInput defines the input for search_tools
type SearchToolsInput struct {
	Query          string   `json:"query" jsonschema:"Natural language description of the task"`
	TopK           int      `json:"top_k,omitempty" jsonschema:"Maximum number of tools to select. Default: server setting"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty" jsonschema:"Minimum similarity score in [-1, 1]. Default: server setting"`
	DetailLevel    string   `json:"detail_level,omitempty" jsonschema:"Detail level: 'names_only', 'summary' (name and description) or 'detailed' (includes parameter schema). Default: 'summary'"`
}

// SelectedTool is one entry of a search_tools response.
type SelectedTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Score       float64        `json:"score"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleSearchTools(ctx context.Context, req *mcp.CallToolRequest, input SearchToolsInput) (*mcp.CallToolResult, any, error) {
	detailLevel := input.DetailLevel
	if detailLevel == "" {
		detailLevel = detailSummary
	}
	switch detailLevel {
	case detailNames, detailSummary, detailDetailed:
	default:
		return errorResult(fmt.Sprintf("invalid detail_level %q: use names_only, summary or detailed", input.DetailLevel)), nil, nil
	}
	if input.TopK < 0 {
		return errorResult("top_k cannot be negative"), nil, nil
	}

	opts := s.options.Selector
	if input.TopK > 0 {
		opts.TopK = input.TopK
	}
	if input.ScoreThreshold != nil {
		opts.ScoreThreshold = input.ScoreThreshold
	}

	s.logger.InfoContext(ctx, "Tool search request", "query", input.Query, "top_k", opts.TopK, "detail_level", detailLevel)

	selections, err := selector.SelectToolsForQuery(ctx, s.memory, input.Query, opts)
	if err != nil {
		s.logger.ErrorContext(ctx, "Tool selection failed", "query", input.Query, "error", err)
		return errorResult(fmt.Sprintf("tool selection failed: %v", err)), nil, nil
	}

	selected := make([]SelectedTool, 0, len(selections))
	names := make([]string, 0, len(selections))
	for _, sel := range selections {
		tool, err := s.registry.Get(sel.ID)
		if err != nil {
			// Stored from an earlier run but no longer registered
			s.logger.DebugContext(ctx, "Skipping unregistered tool", "id", sel.ID)
			continue
		}

		entry := SelectedTool{Name: tool.Name, Category: tool.Category, Score: sel.Score}
		if detailLevel != detailNames {
			entry.Description = tool.Description
		}
		if detailLevel == detailDetailed {
			entry.Parameters = tool.InputSchema
		}
		selected = append(selected, entry)
		names = append(names, tool.Name)
	}

	activeNames := s.active.Activate(names...)

	s.logger.InfoContext(ctx, "Tool search response", "query", input.Query, "selected", len(selected), "active", len(activeNames))

	response := map[string]any{
		"query":        input.Query,
		"total_count":  len(selected),
		"tools":        selected,
		"active_tools": activeNames,
	}
	if len(selected) == 0 {
		response["message"] = "No matching tools found."
	}
	return jsonResult(response), nil, nil
}

// ExecuteToolInput defines the input for execute_tool
type ExecuteToolInput struct {
	ToolName  string         `json:"tool_name" jsonschema:"Name of the tool to execute, as returned by search_tools"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"Tool-specific arguments as an object"`
}

func (s *Server) handleExecuteTool(ctx context.Context, req *mcp.CallToolRequest, input ExecuteToolInput) (*mcp.CallToolResult, any, error) {
	return s.execute(ctx, input.ToolName, input.Arguments), nil, nil
}

func (s *Server) execute(ctx context.Context, name string, arguments map[string]any) *mcp.CallToolResult {
	s.active.Refresh()
	if !s.active.Contains(name) {
		s.logger.WarnContext(ctx, "Rejected call to inactive tool", "name", name)
		return jsonResult(&tools.ExecutionResult{
			Success:   false,
			ToolName:  name,
			Error:     fmt.Sprintf("tool %s is not active: call search_tools first", name),
			ErrorType: "tool_not_active",
		})
	}

	result, err := s.registry.Execute(ctx, name, arguments)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(result)
}

// activeToolHandler serves a selected tool exposed as a first-class MCP tool.
func (s *Server) activeToolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var arguments map[string]any
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &arguments); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		return s.execute(ctx, name, arguments), nil
	}
}

// serverSink mirrors active set changes onto the MCP tool list.
type serverSink struct {
	s *Server
}

func isMetaTool(name string) bool {
	return name == searchToolsName || name == executeToolName
}

func (k *serverSink) Add(tool *tools.Tool) {
	if isMetaTool(tool.Name) {
		k.s.logger.Warn("Refusing to activate tool under a meta-tool name", "name", tool.Name)
		return
	}

	schema := map[string]any{"type": "object"}
	if len(tool.InputSchema) > 0 {
		schema = maps.Clone(tool.InputSchema)
		schema["type"] = "object"
	}

	k.s.server.AddTool(&mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}, k.s.activeToolHandler(tool.Name))
	k.s.logger.Debug("Activated tool", "name", tool.Name)
}

func (k *serverSink) Remove(names ...string) {
	names = slices.DeleteFunc(slices.Clone(names), isMetaTool)
	if len(names) == 0 {
		return
	}
	k.s.server.RemoveTools(names...)
	k.s.logger.Debug("Deactivated tools", "names", names)
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
