// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package treebuild implements the tree-building pipeline: it decodes
// trace and libmap files, resolves addresses, and inserts the results
// into a PerformanceTree.
package treebuild

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/perflow/perfprof/internal/addrresolve"
	"github.com/perflow/perfprof/internal/callstack"
	"github.com/perflow/perfprof/internal/codec"
	"github.com/perflow/perfprof/internal/symresolve"
	"github.com/perflow/perfprof/internal/tree"
)

// TraceFile names a trace file and the process/rank that produced it.
type TraceFile struct {
	Path      string
	ProcessID int
}

// LibMapFile names a libmap file and the process/rank it describes.
type LibMapFile struct {
	Path      string
	ProcessID int
}

// FileReadResult records the outcome of reading one file so that a
// single bad file does not abort the whole build.
type FileReadResult struct {
	Path  string
	Err   error
	Stack int // number of distinct call stacks contributed, 0 on error
}

// Options configures a Build call.
type Options struct {
	ResolveSymbols bool
	TimePerSample  float64 // microseconds; multiplied by sample count for time_us
	MapCapacity    int     // InternMap capacity used when decoding each trace file
	Workers        int     // worker count for ThreadLocalMerge; 0 selects GOMAXPROCS
}

// Build decodes libMaps and traces and inserts every resolved call
// stack into t. It returns one FileReadResult per trace file, in the
// order given.
func Build(t *tree.Tree, resolver *symresolve.Resolver, libMaps []LibMapFile, traces []TraceFile, opts Options) []FileReadResult {
	addrResolver := addrresolve.New(resolver)

	maxProcessID := 0
	for _, lf := range libMaps {
		if err := loadLibMap(addrResolver, lf); err != nil {
			// A missing or corrupt libmap still lets address resolution
			// fall back to "[unresolved]"; it is not a fatal build error.
			continue
		}
		if lf.ProcessID > maxProcessID {
			maxProcessID = lf.ProcessID
		}
	}
	for _, tf := range traces {
		if tf.ProcessID > maxProcessID {
			maxProcessID = tf.ProcessID
		}
	}
	t.SetProcessCount(maxProcessID + 1)

	if t.ConcurrencyModel() == tree.ThreadLocalMerge {
		return buildThreadLocal(t, addrResolver, traces, opts)
	}
	return buildDirect(t, addrResolver, traces, opts)
}

func loadLibMap(r *addrresolve.Resolver, lf LibMapFile) error {
	f, err := os.Open(lf.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", lf.Path, err)
	}
	defer f.Close()

	_, lm, err := codec.DecodeLibMap(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", lf.Path, err)
	}
	r.AddSnapshot(lf.ProcessID, lm)
	return nil
}

func buildDirect(t *tree.Tree, r *addrresolve.Resolver, traces []TraceFile, opts Options) []FileReadResult {
	results := make([]FileReadResult, len(traces))
	for i, tf := range traces {
		results[i] = insertTraceFile(t, r, tf, opts)
	}
	return results
}

func buildThreadLocal(t *tree.Tree, r *addrresolve.Resolver, traces []TraceFile, opts Options) []FileReadResult {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]FileReadResult, len(traces))
	workerTrees := make([]*tree.Tree, workers)
	for i := range workerTrees {
		workerTrees[i] = tree.New(t.BuildMode(), t.CountMode(), tree.FineLock)
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < len(traces); i += workers {
				results[i] = insertTraceFile(workerTrees[w], r, traces[i], opts)
			}
			return nil
		})
	}
	// Worker bodies never return an error (failures are recorded per
	// file in results instead), so Wait cannot fail.
	_ = g.Wait()

	for _, wt := range workerTrees {
		t.MergeThreadLocal(wt)
	}
	return results
}

func insertTraceFile(t *tree.Tree, r *addrresolve.Resolver, tf TraceFile, opts Options) FileReadResult {
	f, err := os.Open(tf.Path)
	if err != nil {
		return FileReadResult{Path: tf.Path, Err: fmt.Errorf("open %s: %w", tf.Path, err)}
	}
	defer f.Close()

	capacity := opts.MapCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	samples, err := codec.DecodeSamples(f, capacity)
	if err != nil {
		return FileReadResult{Path: tf.Path, Err: fmt.Errorf("decode %s: %w", tf.Path, err)}
	}

	stacks := 0
	samples.ForEach(func(stack callstack.CallStack, count uint64) {
		frames := r.Convert(&stack, tf.ProcessID, opts.ResolveSymbols)
		t.InsertCallStack(frames, tf.ProcessID, count, float64(count)*opts.TimePerSample)
		stacks++
	})
	return FileReadResult{Path: tf.Path, Stack: stacks}
}
