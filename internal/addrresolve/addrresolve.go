// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package addrresolve applies LibraryMap snapshots and a SymbolResolver to turn raw call
// stacks into ResolvedFrame sequences.
package addrresolve

import (
	"sync"

	"github.com/perflow/perfprof/internal/callstack"
	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/libmap"
	"github.com/perflow/perfprof/internal/symresolve"
)

// Resolver composes one or more tagged LibraryMap snapshots with an
// optional SymbolResolver to convert raw CallStacks into resolved
// frame sequences.
type Resolver struct {
	mu        sync.RWMutex
	snapshots map[int]*libmap.Map
	symbols   *symresolve.Resolver
}

// New constructs a Resolver. symbols may be nil: in that case,
// resolve_symbols is effectively always false regardless of what the
// caller of Convert passes.
func New(symbols *symresolve.Resolver) *Resolver {
	return &Resolver{snapshots: make(map[int]*libmap.Map), symbols: symbols}
}

// AddSnapshot registers a LibraryMap under mapID, replacing any prior
// snapshot with that ID.
func (r *Resolver) AddSnapshot(mapID int, lm *libmap.Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[mapID] = lm
}

// HasSnapshot reports whether mapID has a registered LibraryMap.
func (r *Resolver) HasSnapshot(mapID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.snapshots[mapID]
	return ok
}

// Clear discards all registered snapshots.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = make(map[int]*libmap.Map)
}

// Convert resolves every frame of stack, in captured (leaf-first) order.
// A raw address whose mapID has no registered snapshot, or that misses
// every region in its snapshot, is emitted as an unresolved frame.
// When resolveSymbols is true and a SymbolResolver is bound, a hit
// against the LibraryMap is further resolved to function/file/line;
// an unresolved symbol falls back to the hex offset so the function
// name is never empty, a contract the tree relies on.
func (r *Resolver) Convert(stack *callstack.CallStack, mapID int, resolveSymbols bool) []frame.ResolvedFrame {
	r.mu.RLock()
	lm, ok := r.snapshots[mapID]
	r.mu.RUnlock()

	frames := stack.Frames()
	out := make([]frame.ResolvedFrame, len(frames))
	for i, a := range frames {
		out[i] = r.convertOne(lm, ok, uint64(a), resolveSymbols)
	}
	return out
}

func (r *Resolver) convertOne(lm *libmap.Map, haveSnapshot bool, addr uint64, resolveSymbols bool) frame.ResolvedFrame {
	if !haveSnapshot {
		return frame.Unresolved(addr)
	}
	name, offset, ok := lm.Resolve(addr)
	if !ok {
		return frame.Unresolved(addr)
	}
	rf := frame.ResolvedFrame{
		RawAddress:  addr,
		LibraryName: name,
		Offset:      offset,
	}
	if resolveSymbols && r.symbols != nil {
		info := r.symbols.Resolve(name, offset)
		if info.Resolved() {
			rf.FunctionName = info.FunctionName
			rf.FileName = info.FileName
			rf.LineNumber = info.LineNumber
		} else {
			rf.FunctionName = frame.HexOffset(offset)
		}
	}
	return rf
}

// ConvertBatch resolves every stack in stacks, preserving order.
func (r *Resolver) ConvertBatch(stacks []*callstack.CallStack, mapID int, resolveSymbols bool) [][]frame.ResolvedFrame {
	out := make([][]frame.ResolvedFrame, len(stacks))
	for i, s := range stacks {
		out[i] = r.Convert(s, mapID, resolveSymbols)
	}
	return out
}
