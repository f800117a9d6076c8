// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package export

import (
	"bytes"
	"testing"

	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/tree"
)

func buildSampleTree() *tree.Tree {
	tr := tree.New(tree.ContextFree, tree.Inclusive, tree.Serial)
	// InsertCallStack takes frames leaf-first: index 0 is the deepest
	// (innermost) frame, the last index is the outermost frame nearest
	// the root.
	tr.InsertCallStack([]frame.ResolvedFrame{
		{FunctionName: "compute", LibraryName: "app"},
		{FunctionName: "main", LibraryName: "app"},
	}, 0, 1, 10.0)
	tr.InsertCallStack([]frame.ResolvedFrame{
		{FunctionName: "inner", LibraryName: "app"},
		{FunctionName: "compute", LibraryName: "app"},
		{FunctionName: "main", LibraryName: "app"},
	}, 0, 1, 5.0)
	return tr
}

func TestToPprofProducesOneFunctionPerDistinctFrame(t *testing.T) {
	prof := ToPprof(buildSampleTree())

	if len(prof.Function) != 3 {
		t.Fatalf("expected 3 distinct functions (main, compute, inner), got %d", len(prof.Function))
	}
	if len(prof.Sample) == 0 {
		t.Fatal("expected at least one sample")
	}
	for _, s := range prof.Sample {
		if len(s.Value) != 2 {
			t.Fatalf("expected 2 sample values (samples, time), got %d", len(s.Value))
		}
	}
}

func TestToPprofLeafLocationsAreDeepestFirst(t *testing.T) {
	prof := ToPprof(buildSampleTree())

	var innerSample *int64
	for _, s := range prof.Sample {
		if len(s.Location) == 0 {
			continue
		}
		leafFn := s.Location[0].Line[0].Function.Name
		if leafFn == "inner" {
			v := s.Value[0]
			innerSample = &v
		}
	}
	if innerSample == nil {
		t.Fatal("expected a sample whose deepest frame is \"inner\"")
	}
}

func TestWritePprofProducesNonEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePprof(&buf, buildSampleTree()); err != nil {
		t.Fatalf("WritePprof: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty gzip-compressed pprof output")
	}
}
