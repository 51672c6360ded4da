package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/radutopala/toolsee/internal/bench"
)

func newBenchCmd() *cobra.Command {
	var (
		datasets string
		sample   int
		seed     uint64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure selection accuracy, latency and token savings on MetaTool data",
		Long:  "Embed the MetaTool catalog (plugin_des.json) into a fresh tool memory, then run the multi-tool (multi_tool_query_golden.json) and single-tool (all_clean_data.csv) query sets found in --datasets. Missing query files are skipped.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}

			catalog, err := bench.LoadCatalog(filepath.Join(datasets, "plugin_des.json"))
			if err != nil {
				return err
			}

			memory, err := a.newMemory(false)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := memory.Add(cmd.Context(), catalog, a.cfg.Settings.TextKeys); err != nil {
				return fmt.Errorf("failed to ingest catalog: %w", err)
			}
			elapsed := time.Since(start)
			a.logger.Info("Inserted catalog into tool memory", "tools", len(catalog), "elapsed_ms", elapsed.Milliseconds())

			counter, err := bench.NewTokenCounter()
			if err != nil {
				return err
			}
			runner, err := bench.NewRunner(memory, catalog, counter, a.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "catalog: tools=%d ingest=%s\n", len(catalog), elapsed.Round(time.Millisecond))

			multiPath := filepath.Join(datasets, "multi_tool_query_golden.json")
			if _, err := os.Stat(multiPath); err == nil {
				cases, err := bench.LoadMultiToolCases(multiPath)
				if err != nil {
					return err
				}
				report, _, err := runner.Run(cmd.Context(), "multi-tool", cases)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report)
			}

			singlePath := filepath.Join(datasets, "all_clean_data.csv")
			if _, err := os.Stat(singlePath); err == nil {
				cases, err := bench.LoadSingleToolCases(singlePath)
				if err != nil {
					return err
				}
				report, _, err := runner.Run(cmd.Context(), "single-tool", bench.Sample(cases, sample, seed))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasets, "datasets", "datasets", "directory holding the MetaTool files")
	cmd.Flags().IntVar(&sample, "sample", 500, "single-tool cases sampled (0 runs all)")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "sampling seed")

	return cmd
}
