// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/perflow/perfprof/internal/online"
	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/treebuild"
	"github.com/perflow/perfprof/internal/watch"
)

func newOnlineCommand() *cobra.Command {
	var (
		pollInterval time.Duration
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "online <run-directory>",
		Short: "Watch a run directory and incorporate trace and libmap files into a tree as they appear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tree.New(tree.ContextFree, tree.Inclusive, tree.Serial)
			resolver := newResolver(verbose)
			opts := treebuild.Options{ResolveSymbols: true, TimePerSample: 1000.0, MapCapacity: 1 << 16}

			a := online.New(t, resolver, opts)
			a.SetFileCallback(func(path string, fileType watch.FileType, isNewFile bool) {
				fmt.Printf("%s %s (new=%v) total=%d\n", fileTypeName(fileType), path, isNewFile, t.TotalSamples())
			})

			w := watch.New(args[0], pollInterval)
			a.Watch(w)
			if !w.Start() {
				return fmt.Errorf("online: watcher for %s is already running", args[0])
			}
			defer w.Stop()

			fmt.Printf("watching %s (interval=%s); press Ctrl-C to stop\n", args[0], pollInterval)
			wait := make(chan os.Signal, 1)
			signal.Notify(wait, os.Interrupt)
			<-wait
			return nil
		},
	}

	cmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "directory poll interval")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose symbol-resolution logging")
	return cmd
}

func fileTypeName(ft watch.FileType) string {
	switch ft {
	case watch.SampleData:
		return "trace"
	case watch.LibraryMap:
		return "libmap"
	case watch.PerformanceTree:
		return "tree"
	case watch.Text:
		return "text"
	default:
		return "unknown"
	}
}
