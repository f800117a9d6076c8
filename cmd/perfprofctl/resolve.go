// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newResolveCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "resolve <library-path> <offset>",
		Short: "Resolve a single (library, offset) pair to a function name and source location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseOffset(args[1])
			if err != nil {
				return err
			}
			resolver := newResolver(verbose)
			info := resolver.Resolve(args[0], offset)
			fmt.Printf("%s+%#x -> %s (%s:%d)\n", args[0], offset, info.FunctionName, info.FileName, info.LineNumber)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose symbol-resolution logging")
	return cmd
}

// parseOffset accepts both "0x"-prefixed hex and plain decimal, since
// offsets are most often copied from a hex dump of a call stack.
func parseOffset(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}
