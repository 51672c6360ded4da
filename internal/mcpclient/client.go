package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig describes how to reach an upstream MCP server whose tools are
// ingested into toolsee. Provide "command" for stdio or "url" for Streamable HTTP.
type ServerConfig struct {
	Command  string            `json:"command,omitempty"`  // Command to execute (stdio transport)
	Args     []string          `json:"args,omitempty"`     // Command arguments
	URL      string            `json:"url,omitempty"`      // Streamable HTTP endpoint
	Env      map[string]string `json:"env,omitempty"`      // Extra environment variables (stdio only)
	Category string            `json:"category,omitempty"` // Category assigned to every tool of this server
	Enabled  bool              `json:"enabled"`            // Whether to connect to this server
}

// RemoteTool is a tool advertised by an upstream server.
type RemoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client is a session with one upstream MCP server.
type Client struct {
	name    string
	session *mcp.ClientSession
	logger  *slog.Logger
}

// Connect opens a session with the server described by config.
func Connect(ctx context.Context, name string, config ServerConfig, logger *slog.Logger) (*Client, error) {
	transport, transportType, err := newTransport(config)
	if err != nil {
		return nil, err
	}
	logger.Info("Connecting to upstream MCP server", "name", name, "transport", transportType)

	client, err := ConnectTransport(ctx, name, transport, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server (%s): %w", transportType, err)
	}
	return client, nil
}

// ConnectTransport opens a session over an already constructed transport.
func ConnectTransport(ctx context.Context, name string, transport mcp.Transport, logger *slog.Logger) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "toolsee", Version: "1.0.0"}, nil)

	// Connect also performs the initialize handshake
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to upstream MCP server", "name", name)
	return &Client{name: name, session: session, logger: logger}, nil
}

func newTransport(config ServerConfig) (mcp.Transport, string, error) {
	switch {
	case config.URL != "":
		return &mcp.StreamableClientTransport{Endpoint: config.URL, MaxRetries: 5}, "streamable-http", nil
	case config.Command != "":
		cmd := exec.Command(config.Command, config.Args...)
		if len(config.Env) > 0 {
			env := os.Environ()
			for k, v := range config.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, "stdio", nil
	default:
		return nil, "", fmt.Errorf("no transport configured: must provide either 'command' or 'url'")
	}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// ListTools retrieves all tools advertised by the upstream server.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var remote []RemoteTool
	params := &mcp.ListToolsParams{}
	for {
		result, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}

		for _, tool := range result.Tools {
			schema, _ := tool.InputSchema.(map[string]any)
			remote = append(remote, RemoteTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}

		if result.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: result.NextCursor}
	}

	c.logger.Info("Listed upstream tools", "name", c.name, "count", len(remote))
	return remote, nil
}

// CallTool runs a tool on the upstream server. Structured content is returned
// as is; otherwise text contents are collected under "content".
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any) (any, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}

	texts := textContents(result)
	if result.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = strings.Join(texts, "\n")
		}
		return nil, fmt.Errorf("tool execution error: %s", msg)
	}

	if structured, ok := result.StructuredContent.(map[string]any); ok {
		return structured, nil
	}

	switch len(texts) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return map[string]any{"content": texts[0]}, nil
	default:
		return map[string]any{"content": texts}, nil
	}
}

func textContents(result *mcp.CallToolResult) []string {
	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return texts
}

// Close terminates the session.
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		c.logger.Warn("Upstream MCP server close error", "name", c.name, "error", err)
		return err
	}

	c.logger.Info("Closed upstream MCP server", "name", c.name)
	return nil
}
