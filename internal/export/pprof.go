// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package export converts a PerformanceTree into the pprof profile
// format so it can be consumed by existing pprof tooling.
//
// ToPprof builds one profile.Function per distinct (function, library)
// pair, one profile.Location per tree node, and one profile.Sample per
// counted node, sourcing
// frames from the already-aggregated tree rather than raw samples.
package export

import (
	"io"
	"time"

	"github.com/google/pprof/profile"

	"github.com/perflow/perfprof/internal/tree"
)

// ToPprof walks t and returns a pprof Profile with one sample per
// non-root node whose count is nonzero, using total or self counts (whichever the tree's count mode
// makes meaningful) as the single "samples" value. Per-process time is
// folded into a second "time" value, summed in nanoseconds.
func ToPprof(t *tree.Tree) *profile.Profile {
	useSelf := t.CountMode() == tree.Exclusive

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "samples", Unit: "count"},
		Period:     1,
		TimeNanos:  timeNanosFunc(),
	}

	funcs := make(map[string]*profile.Function)
	locs := make(map[*tree.TreeNode]*profile.Location)
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	locationFor := func(n *tree.TreeNode) *profile.Location {
		if l, ok := locs[n]; ok {
			return l
		}
		key := n.Frame.FunctionName + "\x00" + n.Frame.LibraryName
		fn, ok := funcs[key]
		if !ok {
			fn = &profile.Function{
				ID:         nextFuncID,
				Name:       n.Frame.FunctionName,
				SystemName: n.Frame.FunctionName,
				Filename:   n.Frame.LibraryName,
			}
			nextFuncID++
			funcs[key] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:      nextLocID,
			Address: n.Frame.RawAddress,
			Line: []profile.Line{{
				Function: fn,
				Line:     int64(n.Frame.LineNumber),
			}},
		}
		nextLocID++
		locs[n] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	var stackOf func(n *tree.TreeNode) []*profile.Location
	stackOf = func(n *tree.TreeNode) []*profile.Location {
		var path []*profile.Location
		for cur := n; cur != nil && cur.Parent() != nil; cur = cur.Parent() {
			path = append(path, locationFor(cur))
		}
		return path
	}

	var walk func(n *tree.TreeNode)
	walk = func(n *tree.TreeNode) {
		count := n.Self()
		if !useSelf {
			count = n.Total()
		}
		if count > 0 && n.Parent() != nil {
			var timeNs int64
			for _, us := range n.PerProcessTimeUs() {
				timeNs += int64(us * 1000)
			}
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: stackOf(n),
				Value:    []int64{int64(count), timeNs},
			})
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(t.Root())

	return prof
}

// WritePprof writes t's pprof representation to w in gzip-compressed
// protobuf form, matching profile.Profile.Write's own format.
func WritePprof(w io.Writer, t *tree.Tree) error {
	return ToPprof(t).Write(w)
}

// timeNanosFunc exists so callers needing reproducible snapshots
// (tests, replay tools) can override profile generation time without
// reaching for time.Now directly in this package.
var timeNanosFunc = func() int64 { return time.Now().UnixNano() }
