package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/radutopala/toolsee/internal/config"
	"github.com/radutopala/toolsee/internal/toolmemory"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// NewRootCmd creates the root toolsee command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolsee",
		Short:         "toolsee selects the tools an LLM agent needs for a query",
		Long:          "toolsee embeds tool descriptions into a similarity store and serves only the top-k tools relevant to each query, over MCP or the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default $TOOLSEE_CONFIG or .toolsee.json)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newQueryCmd(),
		newBenchCmd(),
		newVersionCmd(),
	)

	return root
}

// app holds what every subcommand needs: the logger and the loaded configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadApp creates the logger writing to logOut and loads the configuration.
func loadApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(logOut, verbose)

	configFlag, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.ResolvePath(configFlag), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &app{cfg: cfg, logger: logger}, nil
}

// newMemory builds the tool memory with the configured provider. With persist
// set, the configured store path is loaded and kept up to date.
func (a *app) newMemory(persist bool) (*toolmemory.Memory, error) {
	provider, err := a.cfg.Embedding.NewProvider(a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	var opts []toolmemory.Option
	if persist && a.cfg.Settings.StorePath != "" {
		opts = append(opts, toolmemory.WithPersistPath(a.cfg.Settings.StorePath))
	}
	return toolmemory.New(provider, a.logger, opts...), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print toolsee version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "toolsee %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
