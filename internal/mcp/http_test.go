package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/radutopala/toolsee/internal/embedding"
	"github.com/radutopala/toolsee/internal/mcpclient"
	"github.com/radutopala/toolsee/internal/toolmemory"
	"github.com/radutopala/toolsee/internal/tools"
)

type greetInput struct {
	Name string `json:"name"`
}

// newUpstream serves a single greeting tool over Streamable HTTP
func newUpstream(toolName, description string) *httptest.Server {
	upstream := mcp.NewServer(&mcp.Implementation{Name: "upstream", Version: "1.0.0"}, nil)
	mcp.AddTool(upstream, &mcp.Tool{Name: toolName, Description: description},
		func(ctx context.Context, req *mcp.CallToolRequest, input greetInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "Hello, " + input.Name}}}, nil, nil
		})
	return httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return upstream }, nil))
}

func (s *ServerTestSuite) TestHealthz() {
	srv := httptest.NewServer(s.server.HTTPHandler())
	defer srv.Close()

	s.search(SearchToolsInput{Query: "weather forecast", TopK: 1})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(s.T(), "ok", health.Status)
	require.Equal(s.T(), 3, health.StoredTools)
	require.Equal(s.T(), []string{"weather_forecast"}, health.ActiveTools)
}

func (s *ServerTestSuite) TestHTTPHandlerServesMCP() {
	srv := httptest.NewServer(s.server.HTTPHandler())
	defer srv.Close()

	client, err := mcpclient.Connect(s.ctx, "toolsee", mcpclient.ServerConfig{URL: srv.URL + MCPPath, Enabled: true}, s.logger)
	require.NoError(s.T(), err)
	defer client.Close()

	listed, err := client.ListTools(s.ctx)
	require.NoError(s.T(), err)
	var names []string
	for _, tool := range listed {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(s.T(), []string{"search_tools", "execute_tool"}, names)
}

func (s *ServerTestSuite) TestConnectExternalServers() {
	alpha := newUpstream("greet", "Say hello to a friend")
	defer alpha.Close()
	beta := newUpstream("greet", "Greet a colleague politely")
	defer beta.Close()

	s.server.ConnectExternalServers(s.ctx, map[string]mcpclient.ServerConfig{
		"alpha":    {URL: alpha.URL, Category: "social", Enabled: true},
		"beta":     {URL: beta.URL, Enabled: true},
		"disabled": {URL: "http://127.0.0.1:1", Enabled: false},
		"broken":   {Enabled: true},
	})
	defer s.server.Close()

	tool, err := s.registry.Get("alpha_greet")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "social", tool.Category)

	tool, err = s.registry.Get("beta_greet")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "beta", tool.Category, "Server name is the default category")

	ingested, err := s.server.Ingest(s.ctx, false)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 2, ingested, "Only the new upstream tools are embedded")

	s.search(SearchToolsInput{Query: "say hello to a friend", TopK: 1})
	result, _, err := s.server.handleExecuteTool(s.ctx, nil, ExecuteToolInput{
		ToolName:  "alpha_greet",
		Arguments: map[string]any{"name": "Ada"},
	})
	require.NoError(s.T(), err)
	response := s.parseResponse(result)
	require.True(s.T(), response["success"].(bool))
	require.Equal(s.T(), "Hello, Ada", response["result"].(map[string]any)["content"])
}

func (s *ServerTestSuite) TestUpstreamToolCannotShadowMetaTool() {
	shadow := newUpstream("tool", "Execute unit tests and run the test suite")
	defer shadow.Close()

	s.server.ConnectExternalServers(s.ctx, map[string]mcpclient.ServerConfig{
		"execute": {URL: shadow.URL, Enabled: true},
	})
	defer s.server.Close()

	_, err := s.registry.Get("execute_tool")
	require.Error(s.T(), err, "Prefixed upstream name collides with a meta-tool")

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	_, err = s.server.MCPServer().Connect(s.ctx, serverTransport, nil)
	require.NoError(s.T(), err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(s.ctx, clientTransport, nil)
	require.NoError(s.T(), err)
	defer session.Close()

	for _, query := range []string{"execute unit tests", "weather forecast"} {
		_, err = session.CallTool(s.ctx, &mcp.CallToolParams{
			Name:      "search_tools",
			Arguments: map[string]any{"query": query, "top_k": 1},
		})
		require.NoError(s.T(), err)

		result, err := session.ListTools(s.ctx, &mcp.ListToolsParams{})
		require.NoError(s.T(), err)
		var names []string
		for _, tool := range result.Tools {
			names = append(names, tool.Name)
		}
		require.Contains(s.T(), names, "execute_tool", query)
		require.Contains(s.T(), names, "search_tools", query)
	}

	result, err := session.CallTool(s.ctx, &mcp.CallToolParams{
		Name:      "execute_tool",
		Arguments: map[string]any{"tool_name": "weather_forecast", "arguments": map[string]any{"city": "Rome"}},
	})
	require.NoError(s.T(), err)
	require.True(s.T(), s.parseResponse(result)["success"].(bool), "execute_tool keeps its own handler")
}

func (s *ServerTestSuite) TestNewServer_EvictsToolsNamedLikeMetaTools() {
	registry := tools.NewRegistry(s.logger)
	require.NoError(s.T(), registry.Register(&tools.Tool{
		Name:    "search_tools",
		Source:  tools.SourceInternal,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil },
	}))

	NewServer(Options{Name: "test"}, registry, toolmemory.New(embedding.NewLocal(64, s.logger), s.logger), s.logger)

	_, err := registry.Get("search_tools")
	require.Error(s.T(), err)
	require.True(s.T(), registry.IsReserved("execute_tool"))
}
