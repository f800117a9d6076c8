// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// The pflwdump tool is a command-line tool for inspecting perfprof's
// low-level file formats: sample traces (.pflw), library maps
// (.libmap), and performance trees (.ptree). Run "pflwdump help" for a
// list of commands.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/perflow/perfprof/internal/codec"
	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/treecodec"
)

func usage() {
	fmt.Print(`
Usage:

        pflwdump command file

The commands are:

        help: print this message
     samples: dump a .pflw sample trace as text
      libmap: dump a .libmap library map as text
        tree: dump a .ptree performance tree as text
`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "pflwdump: no command specified")
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	if cmd == "help" {
		usage()
		return
	}
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "pflwdump %s: no file specified\n", cmd)
		os.Exit(2)
	}
	path := os.Args[2]

	var err error
	switch cmd {
	case "samples":
		err = dumpSamples(path)
	case "libmap":
		err = dumpLibMap(path)
	case "tree":
		err = dumpTree(path)
	default:
		fmt.Fprintf(os.Stderr, "pflwdump: unknown command %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'pflwdump help' for usage.")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pflwdump %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func dumpSamples(path string) error {
	m, err := codec.DecodeSamplesFile(path, 1<<20)
	if err != nil {
		return err
	}
	return codec.WriteText(os.Stdout, m)
}

func dumpLibMap(path string) error {
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

func dumpTree(path string) error {
	t, err := treecodec.DecodeFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("node_count=%d total_samples=%d process_count=%d\n",
		t.NodeCount(), t.TotalSamples(), t.ProcessCount())
	t.PreOrder(func(n *tree.TreeNode, depth int) bool {
		fmt.Printf("%s%s (%s) total=%d self=%d\n",
			strings.Repeat("  ", depth), n.Frame.FunctionName, n.Frame.LibraryName, n.Total(), n.Self())
		return true
	})
	return nil
}
