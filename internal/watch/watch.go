// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package watch implements a directory watcher that polls a directory
// with stat-only semantics and reports new or changed files of interest
// to a callback. A file counts as changed when its (mtime, size) pair
// differs from the last sighting.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileType classifies a watched file by its suffix.
type FileType int

const (
	Unknown FileType = iota
	SampleData
	LibraryMap
	PerformanceTree
	Text
)

// ClassifyFile returns the FileType for path based on its suffix.
func ClassifyFile(path string) FileType {
	switch {
	case hasSuffixAny(path, ".pflw", ".pflw.gz"):
		return SampleData
	case hasSuffixAny(path, ".libmap"):
		return LibraryMap
	case hasSuffixAny(path, ".ptree", ".ptree.gz"):
		return PerformanceTree
	case hasSuffixAny(path, ".ptree.txt", ".txt"):
		return Text
	default:
		return Unknown
	}
}

func hasSuffixAny(path string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(path) >= len(s) && path[len(path)-len(s):] == s {
			return true
		}
	}
	return false
}

// Callback is invoked once per new-or-changed file of interest.
// is_new_file is true only the first time a path is reported.
type Callback func(path string, fileType FileType, isNewFile bool)

type fileInfo struct {
	modTime time.Time
	size    int64
}

// Watcher polls a directory at a fixed interval, reporting files whose
// (mtime, size) pair has never been seen or has changed since the last
// scan. It never opens, renames, or deletes a file — it only stats it.
type Watcher struct {
	directory    string
	pollInterval time.Duration
	filter       Filter

	mu       sync.Mutex
	seen     map[string]fileInfo
	callback Callback

	stop chan struct{}
	done chan struct{}
}

// New constructs a Watcher over directory, polling every pollInterval.
// A pollInterval <= 0 defaults to one second.
func New(directory string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{
		directory:    directory,
		pollInterval: pollInterval,
		seen:         make(map[string]fileInfo),
	}
}

// SetCallback installs the function invoked for each new or changed
// file. It must be called before Start.
func (w *Watcher) SetCallback(cb Callback) {
	w.mu.Lock()
	w.callback = cb
	w.mu.Unlock()
}

// SetFilter restricts scanning to files matching filter, in addition to
// the built-in suffix classification. A nil filter (the default)
// accepts every classified file.
func (w *Watcher) SetFilter(filter Filter) {
	w.mu.Lock()
	w.filter = filter
	w.mu.Unlock()
}

// Directory returns the watched directory.
func (w *Watcher) Directory() string { return w.directory }

// Scan performs one synchronous directory pass, invoking the callback
// for every new or changed file. It is safe to call concurrently with
// a running poll loop (e.g. to force an immediate pass).
func (w *Watcher) Scan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scanLocked()
}

func (w *Watcher) scanLocked() {
	_ = filepath.WalkDir(w.directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.checkFile(path)
		return nil
	})
}

func (w *Watcher) checkFile(path string) {
	fileType := ClassifyFile(path)
	if fileType == Unknown {
		return
	}
	if w.filter != nil && !w.filter.Match(path) {
		return
	}

	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return
	}
	info := fileInfo{modTime: st.ModTime(), size: st.Size()}

	prev, known := w.seen[path]
	w.seen[path] = info
	if !known {
		if w.callback != nil {
			w.callback(path, fileType, true)
		}
		return
	}
	if info.modTime.After(prev.modTime) || info.size != prev.size {
		if w.callback != nil {
			w.callback(path, fileType, false)
		}
	}
}

// Start begins polling in a background goroutine. It is a no-op if the
// watcher is already running.
func (w *Watcher) Start() bool {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return false
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop := w.stop
	done := w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		w.Scan()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.Scan()
			}
		}
	}()
	return true
}

// Stop halts polling and joins the poll goroutine. It is idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	done := w.done
	w.stop = nil
	w.done = nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// IsRunning reports whether the poll goroutine is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}
