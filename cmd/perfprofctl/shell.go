// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/perflow/perfprof/internal/analyze"
	"github.com/perflow/perfprof/internal/tree"
)

// shellSession holds the one tree a shell is exploring, built lazily
// by "load" so the shell can start against an empty tree and load a
// run directory interactively.
type shellSession struct {
	dir  string
	tree *tree.Tree
}

func newShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive REPL for building and exploring a performance tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell()
		},
	}
	return cmd
}

func runShell() error {
	rl, err := readline.New("perfprofctl> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	sess := &shellSession{}
	fmt.Println(`perfprofctl interactive shell. Type "help" for commands, "quit" to exit.`)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := sess.dispatch(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

func (s *shellSession) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		s.printHelp()
	case "quit", "exit":
		os.Exit(0)
	case "load":
		return s.load(args)
	case "balance":
		return s.balance()
	case "hotspots":
		return s.hotspots(args)
	case "resolve":
		return s.resolve(args)
	default:
		return fmt.Errorf("unknown command %q; try \"help\"", cmd)
	}
	return nil
}

func (s *shellSession) printHelp() {
	fmt.Print(`
Commands:

        load <run-directory>   build a tree from a run directory's trace and libmap files
        balance                print per-process balance statistics for the loaded tree
        hotspots [N]            print the top N hotspots by total samples (default 20)
        resolve <lib> <offset>  resolve a single address without needing a loaded tree
        quit                    exit the shell
`)
}

func (s *shellSession) load(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load <run-directory>")
	}
	t, results, err := buildTreeFromDirectory(args[0], tree.Serial, false)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", r.Path, r.Err)
		}
	}
	s.dir = args[0]
	s.tree = t
	fmt.Printf("loaded %s: %d nodes, %d samples, %d processes\n", args[0], t.NodeCount(), t.TotalSamples(), t.ProcessCount())
	return nil
}

func (s *shellSession) requireTree() error {
	if s.tree == nil {
		return errors.New(`no tree loaded; run "load <run-directory>" first`)
	}
	return nil
}

func (s *shellSession) balance() error {
	if err := s.requireTree(); err != nil {
		return err
	}
	bal := analyze.ComputeBalance(s.tree.Root().PerProcessCounts())
	fmt.Printf("mean=%.1f stddev=%.1f min=%d (rank %d) max=%d (rank %d) imbalance=%.3f\n",
		bal.Mean, bal.StdDev, bal.Min, bal.ArgMin, bal.Max, bal.ArgMax, bal.Imbalance)
	return nil
}

func (s *shellSession) hotspots(args []string) error {
	if err := s.requireTree(); err != nil {
		return err
	}
	topN := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &topN); err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
	}
	for _, h := range analyze.TopHotspots(s.tree, analyze.ByTotal, topN) {
		fmt.Printf("%8d  %6.2f%%  %s (%s)\n", h.Count, h.Percentage, h.FunctionName, h.LibraryName)
	}
	return nil
}

func (s *shellSession) resolve(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: resolve <library-path> <offset>")
	}
	offset, err := parseOffset(args[1])
	if err != nil {
		return err
	}
	info := newResolver(false).Resolve(args[0], offset)
	fmt.Printf("%s+%#x -> %s (%s:%d)\n", args[0], offset, info.FunctionName, info.FileName, info.LineNumber)
	return nil
}
