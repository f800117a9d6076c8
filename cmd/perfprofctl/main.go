// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// The perfprofctl tool drives the post-processing side of perfprof:
// building a PerformanceTree from trace and libmap files, analyzing
// it, rendering it, resolving individual addresses, watching a
// directory for incoming files as a run progresses, and an
// interactive shell over all of the above.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "perfprofctl",
		Short: "Build, analyze, and render perfprof performance trees",
	}
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newOnlineCommand())
	root.AddCommand(newVisualizeCommand())
	root.AddCommand(newResolveCommand())
	root.AddCommand(newDumpCommand())
	root.AddCommand(newShellCommand())
	return root
}
