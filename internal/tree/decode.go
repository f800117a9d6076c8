// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package tree

import "github.com/perflow/perfprof/internal/frame"

// SetCounters overwrites a node's total/self counters and per-process
// vectors directly. It exists for TreeCodec, which rebuilds a tree
// from a serialized node stream rather than replaying insertions.
func (n *TreeNode) SetCounters(total, self uint64, perProcessCounts []uint64, perProcessTimeUs []float64) {
	n.total.Store(total)
	n.self.Store(self)
	n.vecMu.Lock()
	n.perProcessCounts = append([]uint64(nil), perProcessCounts...)
	n.perProcessTimeUs = append([]float64(nil), perProcessTimeUs...)
	n.vecMu.Unlock()
}

// AddDecodedChild appends a new child with frame f and edge weight
// callCount under n, returning it so a decoder can keep attaching that
// child's own children by ID. It bypasses build-mode key matching:
// the decoder is replaying an already-resolved parent/child structure,
// not discovering it from raw frames.
func (n *TreeNode) AddDecodedChild(f frame.ResolvedFrame, callCount uint64) *TreeNode {
	child := newNode(f, n)
	n.childMu.Lock()
	n.children = append(n.children, child)
	n.callCounts[child] = callCount
	n.childMu.Unlock()
	return child
}
