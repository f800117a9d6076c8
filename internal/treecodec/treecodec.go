// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package treecodec persists a PerformanceTree: it writes the tree to
// disk depth-first with a fixed-size per-node header, and rebuilds it
// from that stream.
package treecodec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/tree"
)

const (
	magicTree      uint32 = 0x50545245 // "PTRE"
	currentVersion uint16 = 1
	headerSize            = 64
	// nodeHeaderSize covers node_id, parent_id, total_samples,
	// self_samples, raw_address, offset (6 x uint64) plus line_number,
	// fn_len, lib_len, file_len, child_count, vec_len (6 x uint32). The
	// edge weight from parent to this node is written separately, after
	// the variable-length strings and per-process vectors. vec_len is
	// per-node rather than taken from the file-level process_count
	// because nodes grow their per-process vectors lazily as they are
	// touched (see internal/tree) and so need not all be the same
	// length.
	nodeHeaderSize = 6*8 + 6*4
)

// noParentID marks the root node, which has no parent.
const noParentID = ^uint64(0)

// Encode writes t to w, depth-first, with node IDs assigned in
// pre-order during the walk.
func Encode(w io.Writer, t *tree.Tree) error {
	bw := bufio.NewWriter(w)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], magicTree)
	binary.LittleEndian.PutUint16(header[4:6], currentVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(t.NodeCount()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(t.ProcessCount()))
	header[16] = byte(t.BuildMode())
	header[17] = byte(t.CountMode())
	header[18] = byte(t.ConcurrencyModel())
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	ids := make(map[*tree.TreeNode]uint64)
	var nextID uint64
	var walkErr error
	t.PreOrder(func(n *tree.TreeNode, depth int) bool {
		id, ok := ids[n]
		if !ok {
			id = nextID
			nextID++
			ids[n] = id
		}
		parentID := noParentID
		var callCount uint64
		if p := n.Parent(); p != nil {
			pid, ok := ids[p]
			if !ok {
				// Parents are always visited before children in
				// pre-order, so this cannot happen.
				walkErr = fmt.Errorf("encode: parent visited after child")
				return false
			}
			parentID = pid
			callCount = p.CallCount(n)
		}
		if err := writeNode(bw, n, id, parentID, callCount); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	return bw.Flush()
}

func writeNode(w *bufio.Writer, n *tree.TreeNode, id, parentID, callCount uint64) error {
	fnBytes := []byte(n.Frame.FunctionName)
	libBytes := []byte(n.Frame.LibraryName)
	fileBytes := []byte(n.Frame.FileName)
	children := n.Children()
	counts := n.PerProcessCounts()
	times := n.PerProcessTimeUs()

	header := make([]byte, nodeHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], id)
	binary.LittleEndian.PutUint64(header[8:16], parentID)
	binary.LittleEndian.PutUint64(header[16:24], n.Total())
	binary.LittleEndian.PutUint64(header[24:32], n.Self())
	binary.LittleEndian.PutUint64(header[32:40], n.Frame.RawAddress)
	binary.LittleEndian.PutUint64(header[40:48], n.Frame.Offset)
	binary.LittleEndian.PutUint32(header[48:52], uint32(n.Frame.LineNumber))
	binary.LittleEndian.PutUint32(header[52:56], uint32(len(fnBytes)))
	binary.LittleEndian.PutUint32(header[56:60], uint32(len(libBytes)))
	binary.LittleEndian.PutUint32(header[60:64], uint32(len(fileBytes)))
	binary.LittleEndian.PutUint32(header[64:68], uint32(len(children)))
	binary.LittleEndian.PutUint32(header[68:72], uint32(len(counts)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write node header: %w", err)
	}
	if _, err := w.Write(fnBytes); err != nil {
		return fmt.Errorf("write function name: %w", err)
	}
	if _, err := w.Write(libBytes); err != nil {
		return fmt.Errorf("write library name: %w", err)
	}
	if _, err := w.Write(fileBytes); err != nil {
		return fmt.Errorf("write file name: %w", err)
	}

	for i, c := range counts {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], c)
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(times[i]))
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("write counters: %w", err)
		}
	}

	var callCountBuf [8]byte
	binary.LittleEndian.PutUint64(callCountBuf[:], callCount)
	if _, err := w.Write(callCountBuf[:]); err != nil {
		return fmt.Errorf("write call count: %w", err)
	}
	return nil
}

// EncodeFile writes t to path.
func EncodeFile(path string, t *tree.Tree) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return Encode(f, t)
}

// Decode rebuilds a Tree from a stream written by Encode. Nodes are
// attached to parents by ID as they are read, relying on Encode's
// pre-order guarantee that a parent always precedes its children.
func Decode(r io.Reader) (*tree.Tree, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != magicTree {
		return nil, fmt.Errorf("bad magic: not a tree file")
	}
	if binary.LittleEndian.Uint16(header[4:6]) != currentVersion {
		return nil, fmt.Errorf("unsupported tree file version")
	}
	nodeCount := binary.LittleEndian.Uint32(header[8:12])
	processCount := binary.LittleEndian.Uint32(header[12:16])
	buildMode := tree.BuildMode(header[16])
	countMode := tree.CountMode(header[17])
	concurrency := tree.ConcurrencyModel(header[18])

	t := tree.New(buildMode, countMode, concurrency)
	t.SetProcessCount(int(processCount))

	nodes := make(map[uint64]*tree.TreeNode, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		n, id, parentID, callCount, err := readNode(r)
		if err != nil {
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
		if parentID == noParentID {
			t.Root().SetCounters(n.total, n.self, n.counts, n.times)
			nodes[id] = t.Root()
			continue
		}
		parent, ok := nodes[parentID]
		if !ok {
			return nil, fmt.Errorf("node %d references unknown parent %d", id, parentID)
		}
		child := parent.AddDecodedChild(n.frame, callCount)
		child.SetCounters(n.total, n.self, n.counts, n.times)
		nodes[id] = child
	}
	return t, nil
}

type decodedNode struct {
	frame  frame.ResolvedFrame
	total  uint64
	self   uint64
	counts []uint64
	times  []float64
}

func readNode(r io.Reader) (decodedNode, uint64, uint64, uint64, error) {
	header := make([]byte, nodeHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return decodedNode{}, 0, 0, 0, err
	}
	id := binary.LittleEndian.Uint64(header[0:8])
	parentID := binary.LittleEndian.Uint64(header[8:16])
	total := binary.LittleEndian.Uint64(header[16:24])
	self := binary.LittleEndian.Uint64(header[24:32])
	rawAddress := binary.LittleEndian.Uint64(header[32:40])
	offset := binary.LittleEndian.Uint64(header[40:48])
	lineNumber := int(int32(binary.LittleEndian.Uint32(header[48:52])))
	fnLen := binary.LittleEndian.Uint32(header[52:56])
	libLen := binary.LittleEndian.Uint32(header[56:60])
	fileLen := binary.LittleEndian.Uint32(header[60:64])
	childCount := binary.LittleEndian.Uint32(header[64:68])
	vecLen := binary.LittleEndian.Uint32(header[68:72])

	fnBytes := make([]byte, fnLen)
	if _, err := io.ReadFull(r, fnBytes); err != nil {
		return decodedNode{}, 0, 0, 0, err
	}
	libBytes := make([]byte, libLen)
	if _, err := io.ReadFull(r, libBytes); err != nil {
		return decodedNode{}, 0, 0, 0, err
	}
	fileBytes := make([]byte, fileLen)
	if _, err := io.ReadFull(r, fileBytes); err != nil {
		return decodedNode{}, 0, 0, 0, err
	}

	// child_count is part of the wire format for parity with the
	// original header layout, but this decoder rebuilds structure from
	// explicit parent IDs rather than nested child counts.
	_ = childCount
	counts, times, err := readCounters(r, vecLen)
	if err != nil {
		return decodedNode{}, 0, 0, 0, err
	}

	var callCountBuf [8]byte
	if _, err := io.ReadFull(r, callCountBuf[:]); err != nil {
		return decodedNode{}, 0, 0, 0, err
	}
	callCount := binary.LittleEndian.Uint64(callCountBuf[:])

	n := decodedNode{
		frame: frame.ResolvedFrame{
			RawAddress:   rawAddress,
			LibraryName:  string(libBytes),
			Offset:       offset,
			FunctionName: string(fnBytes),
			FileName:     string(fileBytes),
			LineNumber:   lineNumber,
		},
		total:  total,
		self:   self,
		counts: counts,
		times:  times,
	}
	return n, id, parentID, callCount, nil
}

func readCounters(r io.Reader, vecLen uint32) ([]uint64, []float64, error) {
	if vecLen == 0 {
		return nil, nil, nil
	}
	counts := make([]uint64, vecLen)
	times := make([]float64, vecLen)
	buf := make([]byte, 16*vecLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < vecLen; i++ {
		off := i * 16
		counts[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		times[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8 : off+16]))
	}
	return counts, times, nil
}

// DecodeFile rebuilds a Tree from path.
func DecodeFile(path string) (*tree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}
