// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package analyze

import (
	"testing"

	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/tree"
)

func TestComputeBalance(t *testing.T) {
	b := ComputeBalance([]uint64{50, 100, 150, 200})
	if b.Mean != 125 {
		t.Fatalf("Mean = %v, want 125", b.Mean)
	}
	if b.Min != 50 || b.Max != 200 {
		t.Fatalf("Min=%d Max=%d, want 50,200", b.Min, b.Max)
	}
	if b.ArgMin != 0 || b.ArgMax != 3 {
		t.Fatalf("ArgMin=%d ArgMax=%d, want 0,3", b.ArgMin, b.ArgMax)
	}
	if b.Imbalance != 1.2 {
		t.Fatalf("Imbalance = %v, want 1.2", b.Imbalance)
	}
}

func TestComputeBalanceZeroMean(t *testing.T) {
	b := ComputeBalance([]uint64{0, 0, 0})
	if b.Imbalance != 0 {
		t.Fatalf("Imbalance = %v, want 0 when mean is 0", b.Imbalance)
	}
}

func TestComputeBalanceEmpty(t *testing.T) {
	b := ComputeBalance(nil)
	if b != (Balance{}) {
		t.Fatalf("ComputeBalance(nil) = %+v, want zero value", b)
	}
}

func TestTopHotspots(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial)
	for i := 0; i < 20; i++ {
		count := uint64(100 - i*4)
		frames := []frame.ResolvedFrame{{FunctionName: leafName(i), LibraryName: "libapp.so"}}
		tr.InsertCallStack(frames, 0, count, 0)
	}

	got := TopHotspots(tr, BySelf, 5)
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5", len(got))
	}
	want := []uint64{100, 96, 92, 88, 84}
	for i, h := range got {
		if h.Count != want[i] {
			t.Fatalf("got[%d].Count = %d, want %d", i, h.Count, want[i])
		}
	}
}

func leafName(i int) string {
	return string(rune('a'+i/26)) + string(rune('a'+i%26))
}

func TestTopHotspotsExcludesRoot(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial)
	tr.InsertCallStack([]frame.ResolvedFrame{{FunctionName: "leaf", LibraryName: "lib"}}, 0, 5, 0)

	got := TopHotspots(tr, ByTotal, 10)
	for _, h := range got {
		if h.FunctionName == "[root]" {
			t.Fatalf("hotspot list should never include the virtual root")
		}
	}
}

func TestTopHotspotsTiesBreakByDepthThenOrder(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial)
	tr.InsertCallStack([]frame.ResolvedFrame{
		{FunctionName: "shallow", LibraryName: "lib"},
	}, 0, 10, 0)
	tr.InsertCallStack([]frame.ResolvedFrame{
		{FunctionName: "deep", LibraryName: "lib"},
		{FunctionName: "outer", LibraryName: "lib"},
	}, 0, 10, 0)

	got := TopHotspots(tr, BySelf, 10)
	var shallowIdx, deepIdx int
	for i, h := range got {
		if h.FunctionName == "shallow" {
			shallowIdx = i
		}
		if h.FunctionName == "deep" {
			deepIdx = i
		}
	}
	if shallowIdx >= deepIdx {
		t.Fatalf("equal-count tie should favor shallower depth first: shallowIdx=%d deepIdx=%d", shallowIdx, deepIdx)
	}
}

func TestTopHotspotsPercentage(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Exclusive, tree.Serial)
	tr.InsertCallStack([]frame.ResolvedFrame{{FunctionName: "a", LibraryName: "lib"}}, 0, 25, 0)
	tr.InsertCallStack([]frame.ResolvedFrame{{FunctionName: "b", LibraryName: "lib"}}, 0, 75, 0)

	got := TopHotspots(tr, BySelf, 2)
	for _, h := range got {
		if h.FunctionName == "a" && h.Percentage != 25 {
			t.Fatalf("a.Percentage = %v, want 25", h.Percentage)
		}
		if h.FunctionName == "b" && h.Percentage != 75 {
			t.Fatalf("b.Percentage = %v, want 75", h.Percentage)
		}
	}
}
