package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/radutopala/toolsee/internal/selector"
)

func newQueryCmd() *cobra.Command {
	var (
		topK        int
		threshold   float64
		noThreshold bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Select the stored tools most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("top-k") && topK < 1 {
				return fmt.Errorf("--top-k must be at least 1, got %d", topK)
			}

			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			memory, err := a.newMemory(true)
			if err != nil {
				return err
			}

			opts := a.cfg.SelectorOptions()
			if cmd.Flags().Changed("top-k") {
				opts.TopK = topK
			}
			if cmd.Flags().Changed("threshold") {
				opts.ScoreThreshold = selector.Threshold(threshold)
			}
			if noThreshold {
				opts.ScoreThreshold = nil
			}

			query := strings.Join(args, " ")
			selections, err := selector.SelectToolsForQuery(cmd.Context(), memory, query, opts)
			if err != nil {
				return err
			}

			if asJSON {
				metadata := make([]map[string]any, len(selections))
				for i, sel := range selections {
					metadata[i] = sel.Metadata
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metadata)
			}

			if len(selections) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No matching tools found.")
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tTOOL\tDESCRIPTION")
			for _, sel := range selections {
				fmt.Fprintf(w, "%.4f\t%s\t%s\n", sel.Score, sel.Name(), sel.Description())
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", selector.DefaultTopK, "maximum number of tools to select")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity score (default from config)")
	cmd.Flags().BoolVar(&noThreshold, "no-threshold", false, "disable score filtering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the annotated metadata as JSON")
	cmd.MarkFlagsMutuallyExclusive("threshold", "no-threshold")

	return cmd
}
