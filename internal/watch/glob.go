// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package watch

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter restricts a Watcher to a subset of the files it would
// otherwise classify and report.
type Filter interface {
	Match(path string) bool
}

// GlobFilter accepts a file iff its base name matches at least one
// include pattern and no exclude pattern, using doublestar glob syntax
// (so "**/*.pflw"-style patterns work as well as plain "*.pflw"). An
// empty Include list matches everything.
type GlobFilter struct {
	Include []string
	Exclude []string
}

// Match implements Filter.
func (f GlobFilter) Match(path string) bool {
	name := filepath.Base(path)

	for _, pattern := range f.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}

	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
