// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/perflow/perfprof/internal/analyze"
	"github.com/perflow/perfprof/internal/tree"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		topN    int
		bySelf  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <run-directory>",
		Short: "Build a performance tree from a run directory and print balance and hotspot statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, results, err := buildTreeFromDirectory(args[0], tree.Serial, verbose)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "warning: %s: %v\n", r.Path, r.Err)
				}
			}
			if t.TotalSamples() == 0 {
				return fmt.Errorf("analyze: no samples ingested from %s", args[0])
			}

			bal := analyze.ComputeBalance(t.Root().PerProcessCounts())
			fmt.Printf("processes=%d\n", t.ProcessCount())
			fmt.Printf("balance: mean=%.1f stddev=%.1f min=%d (rank %d) max=%d (rank %d) imbalance=%.3f\n",
				bal.Mean, bal.StdDev, bal.Min, bal.ArgMin, bal.Max, bal.ArgMax, bal.Imbalance)

			key := analyze.ByTotal
			if bySelf {
				key = analyze.BySelf
			}
			hotspots := analyze.TopHotspots(t, key, topN)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "count\tpercent\tdepth\tfunction\tlibrary\n")
			for _, h := range hotspots {
				fmt.Fprintf(w, "%d\t%.2f%%\t%d\t%s\t%s\n", h.Count, h.Percentage, h.Depth, h.FunctionName, h.LibraryName)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&topN, "top", 20, "number of hotspots to list")
	cmd.Flags().BoolVar(&bySelf, "self", false, "rank hotspots by self samples instead of total samples")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose symbol-resolution logging")
	return cmd
}
