// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package online implements incremental, file-at-a-time performance
// tree construction driven by a live directory watch: each new trace
// file is folded into the shared tree as soon as it appears, rather
// than waiting for a batch of files to analyze all at once.
//
// A rank is extracted from the "rank_N" substring in a file name. A
// libmap with no trace yet is held in a per-rank pending table and
// matched against the next trace file for that rank. A processed-files
// dedup set ignores repeat notifications for an already-built file.
package online

import (
	"strconv"
	"strings"
	"sync"

	"github.com/perflow/perfprof/internal/symresolve"
	"github.com/perflow/perfprof/internal/tree"
	"github.com/perflow/perfprof/internal/treebuild"
	"github.com/perflow/perfprof/internal/watch"
)

// FileCallback is invoked after each file is handled.
type FileCallback func(path string, fileType watch.FileType, isNewFile bool)

// Analyzer incrementally builds a PerformanceTree from a watched
// directory of trace and libmap files.
type Analyzer struct {
	Tree     *tree.Tree
	Resolver *symresolve.Resolver
	Options  treebuild.Options

	mu             sync.Mutex
	pendingLibMaps map[int]string
	processed      map[string]bool
	callback       FileCallback

	watcher *watch.Watcher
}

// New constructs an Analyzer over an existing tree and symbol
// resolver. Callers choose the tree's build/count mode and
// concurrency model up front, same as a batch TreeBuilder.Build call.
func New(t *tree.Tree, resolver *symresolve.Resolver, opts treebuild.Options) *Analyzer {
	return &Analyzer{
		Tree:           t,
		Resolver:       resolver,
		Options:        opts,
		pendingLibMaps: make(map[int]string),
		processed:      make(map[string]bool),
	}
}

// SetFileCallback installs a callback invoked after each handled file.
func (a *Analyzer) SetFileCallback(cb FileCallback) {
	a.mu.Lock()
	a.callback = cb
	a.mu.Unlock()
}

// Watch wires w's callback to HandleFile, feeding each file the watcher
// reports into the tree; a report for a trace path already processed
// is ignored. The caller starts and stops the watcher itself.
func (a *Analyzer) Watch(w *watch.Watcher) *watch.Watcher {
	a.watcher = w
	w.SetCallback(a.HandleFile)
	return w
}

// HandleFile processes one file reported by a watch.Watcher. It is
// safe to call directly (without a Watcher) for tests or for files
// discovered through some other channel.
func (a *Analyzer) HandleFile(path string, fileType watch.FileType, isNewFile bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.processed[path] {
		return
	}

	switch fileType {
	case watch.LibraryMap:
		if rank, ok := extractRank(path); ok {
			a.pendingLibMaps[rank] = path
			a.notify(path, fileType, isNewFile)
		}

	case watch.SampleData:
		rank, ok := extractRank(path)
		if !ok {
			return
		}

		var libMaps []treebuild.LibMapFile
		if lmPath, pending := a.pendingLibMaps[rank]; pending {
			libMaps = append(libMaps, treebuild.LibMapFile{Path: lmPath, ProcessID: rank})
			delete(a.pendingLibMaps, rank)
		}

		traces := []treebuild.TraceFile{{Path: path, ProcessID: rank}}
		treebuild.Build(a.Tree, a.Resolver, libMaps, traces, a.Options)
		a.processed[path] = true
		a.notify(path, fileType, isNewFile)

	case watch.PerformanceTree:
		// Reserved for loading pre-built trees; not yet supported.
		a.notify(path, fileType, isNewFile)

	default:
	}
}

func (a *Analyzer) notify(path string, fileType watch.FileType, isNewFile bool) {
	if a.callback != nil {
		a.callback(path, fileType, isNewFile)
	}
}

// extractRank finds the "rank_" marker in path and parses the digits
// that immediately follow it, e.g. "perflow_mpi_rank_3.pflw" -> 3.
func extractRank(path string) (int, bool) {
	const marker = "rank_"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return 0, false
	}
	start := idx + len(marker)
	end := start
	for end < len(path) && path[end] >= '0' && path[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(path[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
