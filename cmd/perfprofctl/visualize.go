// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/visualize"
)

func newVisualizeCommand() *cobra.Command {
	var (
		output   string
		scheme   string
		maxDepth int
	)

	cmd := &cobra.Command{
		Use:   "visualize <run-directory>",
		Short: "Render a performance tree as a GraphViz DOT file or a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, results, err := buildTreeFromDirectory(args[0], tree.Serial, false)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "warning: %s: %v\n", r.Path, r.Err)
				}
			}

			cs, err := parseColorScheme(scheme)
			if err != nil {
				return err
			}
			opts := visualize.Options{Scheme: cs, MaxDepth: maxDepth}

			if output == "" || strings.HasSuffix(output, ".dot") {
				w := os.Stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return visualize.GenerateDOT(w, t, opts)
			}
			return visualize.GeneratePDF(t, output, opts)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file; .dot or empty writes DOT to stdout, anything else writes a PDF")
	cmd.Flags().StringVar(&scheme, "scheme", "heatmap", "color scheme: grayscale|heatmap|rainbow")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum tree depth to render; 0 means unlimited")
	return cmd
}

func parseColorScheme(s string) (visualize.ColorScheme, error) {
	switch s {
	case "grayscale":
		return visualize.Grayscale, nil
	case "heatmap":
		return visualize.Heatmap, nil
	case "rainbow":
		return visualize.Rainbow, nil
	default:
		return 0, fmt.Errorf("unknown color scheme %q (want grayscale|heatmap|rainbow)", s)
	}
}
