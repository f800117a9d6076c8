// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package analyze derives reports from a built PerformanceTree:
// balance statistics over per-process counters, and hotspot ranking.
package analyze

import (
	"math"
	"sort"

	"github.com/perflow/perfprof/internal/tree"
)

// Balance holds load-balance statistics computed over the root's
// per-process counters.
type Balance struct {
	Mean      float64
	StdDev    float64
	Min       uint64
	Max       uint64
	ArgMin    int
	ArgMax    int
	Imbalance float64 // (max - min) / mean; 0 when mean is 0
}

// ComputeBalance computes Balance over counts, the per-process sample
// counters of a tree's root (or any node).
func ComputeBalance(counts []uint64) Balance {
	var b Balance
	if len(counts) == 0 {
		return b
	}

	b.Min, b.Max = counts[0], counts[0]
	var sum float64
	for i, c := range counts {
		if c < b.Min {
			b.Min, b.ArgMin = c, i
		}
		if c > b.Max {
			b.Max, b.ArgMax = c, i
		}
		sum += float64(c)
	}
	b.Mean = sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		d := float64(c) - b.Mean
		variance += d * d
	}
	variance /= float64(len(counts))
	b.StdDev = math.Sqrt(variance)

	if b.Mean != 0 {
		b.Imbalance = float64(b.Max-b.Min) / b.Mean
	}
	return b
}

// SortKey selects the counter Hotspots ranks by.
type SortKey int

const (
	// ByTotal ranks by TreeNode.Total.
	ByTotal SortKey = iota
	// BySelf ranks by TreeNode.Self.
	BySelf
)

// Hotspot is one ranked entry returned by TopHotspots.
type Hotspot struct {
	FunctionName string
	LibraryName  string
	FileName     string
	LineNumber   int
	Count        uint64
	Percentage   float64
	Depth        int
}

// TopHotspots returns the topN nodes (excluding the virtual root)
// ranked by key, descending. Ties break by shallower depth, then by
// insertion (traversal) order.
func TopHotspots(t *tree.Tree, key SortKey, topN int) []Hotspot {
	type candidate struct {
		node  *tree.TreeNode
		depth int
		order int
		count uint64
	}

	var candidates []candidate
	order := 0
	t.PreOrder(func(n *tree.TreeNode, depth int) bool {
		if depth == 0 { // skip the virtual root
			return true
		}
		var c uint64
		if key == BySelf {
			c = n.Self()
		} else {
			c = n.Total()
		}
		candidates = append(candidates, candidate{node: n, depth: depth, order: order, count: c})
		order++
		return true
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth < candidates[j].depth
		}
		return candidates[i].order < candidates[j].order
	})

	total := t.TotalSamples()
	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]Hotspot, topN)
	for i := 0; i < topN; i++ {
		c := candidates[i]
		var pct float64
		if total != 0 {
			pct = float64(c.count) / float64(total) * 100
		}
		out[i] = Hotspot{
			FunctionName: c.node.Frame.FunctionName,
			LibraryName:  c.node.Frame.LibraryName,
			FileName:     c.node.Frame.FileName,
			LineNumber:   c.node.Frame.LineNumber,
			Count:        c.count,
			Percentage:   pct,
			Depth:        c.depth,
		}
	}
	return out
}
