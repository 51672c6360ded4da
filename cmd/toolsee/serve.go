package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/radutopala/toolsee/internal/mcp"
	"github.com/radutopala/toolsee/internal/tools"
)

const defaultLogFile = "/tmp/toolsee.log"

func newServeCmd() *cobra.Command {
	var (
		root     string
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search_tools and execute_tool over MCP",
		Long:  "Serve the tool selector over MCP. Tools from configured upstream servers and the built-in tools are embedded into the tool memory at startup. Stdio is used unless --http is given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the MCP stream, so logs go to a file
			logPath := os.Getenv("TOOLSEE_LOG_FILE")
			if logPath == "" {
				logPath = defaultLogFile
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				logFile = os.Stderr
			} else {
				defer logFile.Close()
			}

			a, err := loadApp(cmd, logFile)
			if err != nil {
				return err
			}

			server, err := a.buildServer(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer server.Close()

			if httpAddr != "" {
				return serveHTTP(cmd.Context(), a, server, httpAddr)
			}

			a.logger.Info("Starting toolsee MCP server over stdio", "version", version)
			if err := server.Run(cmd.Context(), &mcpsdk.StdioTransport{}); err != nil {
				return fmt.Errorf("mcp server failed: %w", err)
			}
			a.logger.Info("toolsee MCP server finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "directory searched by the built-in file_search tool")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve Streamable HTTP on this address (e.g. :8080) instead of stdio; MCP is mounted at /mcp, health at /healthz")

	return cmd
}

// buildServer registers built-in and upstream tools and brings the tool memory up to date.
// With reembed set, tools already stored are embedded again.
func (a *app) buildServer(ctx context.Context, root string, reembed bool) (*mcp.Server, error) {
	memory, err := a.newMemory(true)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(a.logger)
	if err := mcp.RegisterBuiltinTools(registry, root); err != nil {
		return nil, err
	}

	server := mcp.NewServer(mcp.Options{
		Name:     "toolsee",
		Version:  version,
		Selector: a.cfg.SelectorOptions(),
		TextKeys: a.cfg.Settings.TextKeys,
	}, registry, memory, a.logger)

	server.ConnectExternalServers(ctx, a.cfg.ExternalServers)

	if _, err := server.Ingest(ctx, reembed); err != nil {
		server.Close()
		return nil, err
	}
	return server, nil
}

func serveHTTP(ctx context.Context, a *app, server *mcp.Server, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP shutdown error", "error", err)
		}
	}()

	a.logger.Info("Starting toolsee MCP server over Streamable HTTP", "addr", addr, "path", mcp.MCPPath, "version", version)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	a.logger.Info("toolsee MCP server finished")
	return nil
}
