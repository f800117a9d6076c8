// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perflow/perfprof/internal/codec"
	"github.com/perflow/perfprof/internal/export"
	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/treecodec"
)

func newDumpCommand() *cobra.Command {
	var pprofOut string

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Dump a .pflw trace, .libmap library map, or .ptree performance tree as text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			switch {
			case strings.HasSuffix(path, ".pflw") || strings.HasSuffix(path, ".pflw.gz"):
				return dumpSamplesFile(path)
			case strings.HasSuffix(path, ".libmap"):
				return dumpLibMapFile(path)
			case strings.HasSuffix(path, ".ptree") || strings.HasSuffix(path, ".ptree.gz"):
				return dumpTreeFile(path, pprofOut)
			default:
				return fmt.Errorf("dump: unrecognized file extension for %s (want .pflw, .libmap, or .ptree)", path)
			}
		},
	}
	cmd.Flags().StringVar(&pprofOut, "pprof", "", "for .ptree input, also write a pprof-format profile to this path")
	return cmd
}

func dumpSamplesFile(path string) error {
	m, err := codec.DecodeSamplesFile(path, 1<<20)
	if err != nil {
		return err
	}
	return codec.WriteText(os.Stdout, m)
}

func dumpLibMapFile(path string) error {
	processID, lm, err := codec.DecodeLibMapFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("process_id=%d\n", processID)
	for _, r := range lm.Regions() {
		exec := " "
		if r.Executable {
			exec = "x"
		}
		fmt.Printf("  %#016x-%#016x %s %s\n", r.Base, r.End, exec, r.Name)
	}
	return nil
}

func dumpTreeFile(path, pprofOut string) error {
	t, err := treecodec.DecodeFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("node_count=%d total_samples=%d process_count=%d\n", t.NodeCount(), t.TotalSamples(), t.ProcessCount())
	t.PreOrder(func(n *tree.TreeNode, depth int) bool {
		fmt.Printf("%s%s (%s) total=%d self=%d\n",
			strings.Repeat("  ", depth), n.Frame.FunctionName, n.Frame.LibraryName, n.Total(), n.Self())
		return true
	})

	if pprofOut == "" {
		return nil
	}
	f, err := os.Create(pprofOut)
	if err != nil {
		return err
	}
	defer f.Close()
	return export.WritePprof(f, t)
}
