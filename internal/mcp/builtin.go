package mcp

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/radutopala/toolsee/internal/tools"
)

const maxFileSearchResults = 50

// RegisterBuiltinTools registers the demo tools served by toolsee itself.
// file_search walks root; test_runner only acknowledges the request.
func RegisterBuiltinTools(registry *tools.Registry, root string) error {
	builtins := []*tools.Tool{
		{
			Name:        "file_search",
			Category:    "files",
			Description: "Search project files by pattern.",
			Source:      tools.SourceInternal,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Glob ('*.go', '**/cmd/*.go') or substring. Patterns with '/' match the relative path, others the file name",
					},
				},
				"required": []string{"pattern"},
			},
			Handler: fileSearchHandler(root),
		},
		{
			Name:        "test_runner",
			Category:    "dev",
			Description: "Run unit tests.",
			Source:      tools.SourceInternal,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": "Package or test selector",
					},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				target, _ := args["target"].(string)
				return map[string]any{"status": "Running tests...", "target": target}, nil
			},
		},
	}

	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register builtin tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func fileSearchHandler(root string) tools.ToolHandler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		pattern, _ := args["pattern"].(string)
		if pattern == "" {
			return nil, fmt.Errorf("pattern is required")
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matchPath := strings.Contains(pattern, "/")

		var matches []string
		truncated := false
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // Skip unreadable entries
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			target := d.Name()
			if matchPath {
				target = rel
			}
			if ok, _ := doublestar.Match(pattern, target); ok || strings.Contains(target, pattern) {
				if len(matches) == maxFileSearchResults {
					truncated = true
					return filepath.SkipAll
				}
				matches = append(matches, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search files: %w", err)
		}

		return map[string]any{
			"pattern":   pattern,
			"matches":   matches,
			"count":     len(matches),
			"truncated": truncated,
		}, nil
	}
}
