package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/radutopala/toolsee/internal/bench"
)

func newIngestCmd() *cobra.Command {
	var (
		catalog string
		reembed bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed tools into the persisted tool memory",
		Long:  "Embed the built-in tools and the tools of every configured upstream MCP server into settings.storePath. With --catalog, a name to description JSON catalog is embedded instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			if a.cfg.Settings.StorePath == "" {
				return fmt.Errorf("settings.storePath is empty: nothing to persist")
			}

			if catalog != "" {
				records, err := bench.LoadCatalog(catalog)
				if err != nil {
					return err
				}
				memory, err := a.newMemory(true)
				if err != nil {
					return err
				}
				if err := memory.Add(cmd.Context(), records, a.cfg.Settings.TextKeys); err != nil {
					return fmt.Errorf("failed to ingest catalog: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "ingested %d tools into %s (%d stored)\n", len(records), a.cfg.Settings.StorePath, memory.Len())
				return err
			}

			server, err := a.buildServer(cmd.Context(), ".", reembed)
			if err != nil {
				return err
			}
			defer server.Close()

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "tool memory %s is up to date\n", a.cfg.Settings.StorePath)
			return err
		},
	}

	cmd.Flags().StringVar(&catalog, "catalog", "", "JSON file mapping tool name to description")
	cmd.Flags().BoolVar(&reembed, "reembed", false, "embed tools again even if already stored")

	return cmd
}
