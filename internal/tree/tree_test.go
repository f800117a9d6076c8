// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package tree

import (
	"sync"
	"testing"

	"github.com/perflow/perfprof/internal/frame"
)

func frames(names ...string) []frame.ResolvedFrame {
	out := make([]frame.ResolvedFrame, len(names))
	// names given outermost-first (caller convention); store reversed so
	// index 0 is leaf, matching CallStack's leaf-first capture order.
	for i, n := range names {
		out[len(names)-1-i] = frame.ResolvedFrame{FunctionName: n, LibraryName: "libapp.so"}
	}
	return out
}

func TestInsertSingleStackExclusive(t *testing.T) {
	tr := New(ContextFree, Exclusive, Serial)
	tr.InsertCallStack(frames("main", "work", "leaf"), 0, 5, 50.0)

	if tr.TotalSamples() != 5 {
		t.Fatalf("TotalSamples = %d, want 5", tr.TotalSamples())
	}
	main := tr.Root().Children()[0]
	if main.Frame.FunctionName != "main" {
		t.Fatalf("first child = %q, want main", main.Frame.FunctionName)
	}
	if main.Total() != 0 {
		t.Fatalf("Exclusive mode: internal node total = %d, want 0", main.Total())
	}
	leaf := main.Children()[0].Children()[0]
	if leaf.Self() != 5 {
		t.Fatalf("leaf.Self() = %d, want 5", leaf.Self())
	}
	if leaf.Total() != 5 {
		t.Fatalf("Exclusive mode: leaf.Total() = %d, want 5 (self == total at the leaf)", leaf.Total())
	}
}

func TestInsertSingleStackInclusive(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("main", "work", "leaf"), 0, 3, 0)

	main := tr.Root().Children()[0]
	if main.Total() != 3 {
		t.Fatalf("Inclusive mode: main.Total() = %d, want 3", main.Total())
	}
	leaf := main.Children()[0].Children()[0]
	if leaf.Total() != 3 || leaf.Self() != 0 {
		t.Fatalf("leaf = total %d self %d, want total 3 self 0", leaf.Total(), leaf.Self())
	}
}

func TestInsertSingleStackBoth(t *testing.T) {
	tr := New(ContextFree, Both, Serial)
	tr.InsertCallStack(frames("main", "leaf"), 0, 4, 0)

	leaf := tr.Root().Children()[0].Children()[0]
	if leaf.Total() != 4 || leaf.Self() != 4 {
		t.Fatalf("leaf = total %d self %d, want 4, 4", leaf.Total(), leaf.Self())
	}
}

func TestContextFreeMergesSameFunctionDifferentOffset(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	f1 := []frame.ResolvedFrame{{FunctionName: "leaf", LibraryName: "lib", Offset: 0x10}}
	f2 := []frame.ResolvedFrame{{FunctionName: "leaf", LibraryName: "lib", Offset: 0x20}}
	tr.InsertCallStack(f1, 0, 1, 0)
	tr.InsertCallStack(f2, 0, 1, 0)

	if got := len(tr.Root().Children()); got != 1 {
		t.Fatalf("ContextFree: got %d children, want 1 (merged)", got)
	}
}

func TestContextAwareSeparatesByOffset(t *testing.T) {
	tr := New(ContextAware, Inclusive, Serial)
	f1 := []frame.ResolvedFrame{{FunctionName: "leaf", LibraryName: "lib", Offset: 0x10}}
	f2 := []frame.ResolvedFrame{{FunctionName: "leaf", LibraryName: "lib", Offset: 0x20}}
	tr.InsertCallStack(f1, 0, 1, 0)
	tr.InsertCallStack(f2, 0, 1, 0)

	if got := len(tr.Root().Children()); got != 2 {
		t.Fatalf("ContextAware: got %d children, want 2 (distinct call sites)", got)
	}
}

func TestCallCountEdgeWeight(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("main", "leaf"), 0, 2, 0)
	tr.InsertCallStack(frames("main", "leaf"), 0, 3, 0)

	main := tr.Root().Children()[0]
	leaf := main.Children()[0]
	if got := main.CallCount(leaf); got != 5 {
		t.Fatalf("CallCount = %d, want 5", got)
	}
}

func TestPerProcessCountsGrowOnNewProcessID(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("leaf"), 0, 1, 0)
	tr.InsertCallStack(frames("leaf"), 2, 1, 0)

	leaf := tr.Root().Children()[0]
	counts := leaf.PerProcessCounts()
	if len(counts) != 3 {
		t.Fatalf("len(counts) = %d, want 3", len(counts))
	}
	if counts[0] != 1 || counts[1] != 0 || counts[2] != 1 {
		t.Fatalf("counts = %v, want [1 0 1]", counts)
	}
	if tr.ProcessCount() != 3 {
		t.Fatalf("ProcessCount() = %d, want 3", tr.ProcessCount())
	}
}

func TestConcurrentInsertsFineLockMatchSerial(t *testing.T) {
	const workers = 8
	const perWorker = 200

	serial := New(ContextFree, Inclusive, Serial)
	fine := New(ContextFree, Inclusive, FineLock)

	names := []string{"main", "a", "b", "leaf"}
	for i := 0; i < workers*perWorker; i++ {
		serial.InsertCallStack(frames(names...), i%4, 1, 0)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				fine.InsertCallStack(frames(names...), (w*perWorker+i)%4, 1, 0)
			}
		}(w)
	}
	wg.Wait()

	if serial.NodeCount() != fine.NodeCount() {
		t.Fatalf("NodeCount: serial=%d fine=%d", serial.NodeCount(), fine.NodeCount())
	}
	if serial.TotalSamples() != fine.TotalSamples() {
		t.Fatalf("TotalSamples: serial=%d fine=%d", serial.TotalSamples(), fine.TotalSamples())
	}
}

func TestMergeThreadLocal(t *testing.T) {
	main := New(ContextFree, Inclusive, ThreadLocalMerge)
	worker1 := New(ContextFree, Inclusive, ThreadLocalMerge)
	worker2 := New(ContextFree, Inclusive, ThreadLocalMerge)

	worker1.InsertCallStack(frames("main", "leaf"), 0, 3, 0)
	worker2.InsertCallStack(frames("main", "leaf"), 1, 4, 0)

	main.MergeThreadLocal(worker1)
	main.MergeThreadLocal(worker2)

	if main.TotalSamples() != 7 {
		t.Fatalf("TotalSamples = %d, want 7", main.TotalSamples())
	}
	if got := len(main.Root().Children()); got != 1 {
		t.Fatalf("children = %d, want 1 (structurally unified)", got)
	}
	leaf := main.Root().Children()[0].Children()[0]
	if leaf.Total() != 7 {
		t.Fatalf("leaf.Total() = %d, want 7", leaf.Total())
	}
}

func TestTraversalEarlyTermination(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("a", "b"), 0, 1, 0)
	tr.InsertCallStack(frames("c", "d"), 0, 1, 0)

	visited := 0
	tr.PreOrder(func(n *TreeNode, depth int) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Fatalf("visited = %d, want 2 (stopped early)", visited)
	}
}

func TestNodesAtDepthAndMaxDepth(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("a", "b", "c"), 0, 1, 0)

	if tr.MaxDepth() != 3 {
		t.Fatalf("MaxDepth() = %d, want 3", tr.MaxDepth())
	}
	if got := len(tr.NodesAtDepth(2)); got != 1 {
		t.Fatalf("NodesAtDepth(2) = %d, want 1", got)
	}
}

func TestFindNodesByNameAndLibrary(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("main", "leaf"), 0, 1, 0)

	if got := tr.FindNodesByName("leaf"); len(got) != 1 {
		t.Fatalf("FindNodesByName = %d, want 1", len(got))
	}
	if got := tr.FindNodesByLibrary("libapp.so"); len(got) != 2 {
		t.Fatalf("FindNodesByLibrary = %d, want 2", len(got))
	}
}

func TestFilterBySamples(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("hot"), 0, 100, 0)
	tr.InsertCallStack(frames("cold"), 0, 1, 0)

	got := tr.FilterBySamples(50)
	if len(got) != 1 || got[0].Frame.FunctionName != "hot" {
		t.Fatalf("FilterBySamples(50) = %+v, want only 'hot'", got)
	}
}

func TestClearResetsTree(t *testing.T) {
	tr := New(ContextFree, Inclusive, Serial)
	tr.InsertCallStack(frames("a"), 0, 1, 0)
	tr.Clear()
	if tr.NodeCount() != 1 {
		t.Fatalf("NodeCount() after Clear = %d, want 1 (root only)", tr.NodeCount())
	}
	if tr.TotalSamples() != 0 {
		t.Fatalf("TotalSamples() after Clear = %d, want 0", tr.TotalSamples())
	}
}
