// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package visualize

import (
	"bytes"
	"strings"
	"testing"

	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/tree"
)

func sampleTree() *tree.Tree {
	t := tree.New(tree.ContextFree, tree.Inclusive, tree.Serial)
	t.InsertCallStack([]frame.ResolvedFrame{
		{FunctionName: "work", LibraryName: "app"},
		{FunctionName: "main", LibraryName: "app"},
	}, 0, 10, 0)
	return t
}

func TestGenerateDOTContainsHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateDOT(&buf, sampleTree(), Options{Scheme: Heatmap}); err != nil {
		t.Fatalf("GenerateDOT: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "digraph PerformanceTree {\n") {
		t.Fatalf("missing DOT header, got: %s", out)
	}
	if !strings.Contains(out, "node0 -> node1") {
		t.Fatalf("missing root->child edge, got: %s", out)
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Fatalf("missing closing brace")
	}
}

func TestGenerateDOTEdgeLabelHasCallCount(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateDOT(&buf, sampleTree(), Options{}); err != nil {
		t.Fatalf("GenerateDOT: %v", err)
	}
	if !strings.Contains(buf.String(), `[label="10"]`) {
		t.Fatalf("expected call-count edge label, got: %s", buf.String())
	}
}

func TestGenerateDOTRespectsMaxDepth(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateDOT(&buf, sampleTree(), Options{MaxDepth: 1}); err != nil {
		t.Fatalf("GenerateDOT: %v", err)
	}
	if strings.Contains(buf.String(), "work") {
		t.Fatalf("depth-limited DOT should not mention nodes beyond MaxDepth")
	}
}

func TestNodeColorWhiteWhenNoSamples(t *testing.T) {
	if got := nodeColor(0, 0, Heatmap); got != "white" {
		t.Fatalf("nodeColor with maxSamples=0 = %q, want white", got)
	}
}

func TestNodeColorGrayscaleEndpoints(t *testing.T) {
	if got := nodeColor(0, 100, Grayscale); got != "#ffffff" {
		t.Fatalf("coldest grayscale = %q, want #ffffff", got)
	}
	if got := nodeColor(100, 100, Grayscale); got != "#000000" {
		t.Fatalf("hottest grayscale = %q, want #000000", got)
	}
}

func TestNodeLabelEscapesQuotes(t *testing.T) {
	n := tree.New(tree.ContextFree, tree.Inclusive, tree.Serial)
	n.InsertCallStack([]frame.ResolvedFrame{{FunctionName: `say "hi"`, LibraryName: "app"}}, 0, 1, 0)
	child := n.Root().Children()[0]
	label := nodeLabel(child, child.Total(), n.TotalSamples())
	if !strings.Contains(label, `\"hi\"`) {
		t.Fatalf("label did not escape quotes: %q", label)
	}
}
