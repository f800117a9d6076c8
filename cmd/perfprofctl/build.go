// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/perflow/perfprof/internal/config"
	"github.com/perflow/perfprof/internal/symresolve"
	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/treebuild"
	"github.com/perflow/perfprof/internal/watch"
)

// scanRunDirectory classifies every file directly under dir into the
// trace and libmap lists treebuild.Build expects, using watch's
// suffix classification and the "rank_<N>" marker in each file name
// (extractProcessID) so per-process file pairs line up by process ID.
func scanRunDirectory(dir string) ([]treebuild.TraceFile, []treebuild.LibMapFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var traces []treebuild.TraceFile
	var libMaps []treebuild.LibMapFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		processID, _ := extractProcessID(e.Name())
		switch watch.ClassifyFile(path) {
		case watch.SampleData:
			traces = append(traces, treebuild.TraceFile{Path: path, ProcessID: processID})
		case watch.LibraryMap:
			libMaps = append(libMaps, treebuild.LibMapFile{Path: path, ProcessID: processID})
		}
	}
	return traces, libMaps, nil
}

// extractProcessID looks for a "rank_<N>" marker in a file's base
// name, falling back to process 0 for single-rank runs whose files
// carry no rank suffix at all.
func extractProcessID(name string) (int, bool) {
	const marker = "rank_"
	idx := strings.Index(name, marker)
	if idx < 0 {
		return 0, false
	}
	start := idx + len(marker)
	end := start
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// newResolver builds a symresolve.Resolver configured the way the
// sampler shim's SYMBOL_DEBUG/TIMER_METHOD-adjacent environment knobs
// describe, honoring verboseLogging and an AutoFallback strategy so a
// CLI invocation gets both fast export-table hits and slower
// debug-info fallback without extra flags.
func newResolver(verboseLogging bool) *symresolve.Resolver {
	opts := []symresolve.Option{symresolve.WithCache()}
	if verboseLogging {
		opts = append(opts, symresolve.WithVerboseLogging())
	}
	return symresolve.New(symresolve.AutoFallback,
		symresolve.NewExportTableStrategy(),
		symresolve.NewDebugInfoStrategy(),
		opts...)
}

// buildTreeFromDirectory scans dir for trace/libmap files and builds a
// PerformanceTree from them using the given concurrency model.
func buildTreeFromDirectory(dir string, concurrency tree.ConcurrencyModel, verboseLogging bool) (*tree.Tree, []treebuild.FileReadResult, error) {
	traces, libMaps, err := scanRunDirectory(dir)
	if err != nil {
		return nil, nil, err
	}

	t := tree.New(tree.ContextFree, tree.Inclusive, concurrency)
	resolver := newResolver(verboseLogging)
	opts := treebuild.Options{
		ResolveSymbols: true,
		TimePerSample:  1_000_000.0 / float64(config.Default().Frequency),
		MapCapacity:    1 << 16,
	}
	results := treebuild.Build(t, resolver, libMaps, traces, opts)
	return t, results, nil
}
