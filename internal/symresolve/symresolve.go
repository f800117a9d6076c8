// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package symresolve implements SymbolResolver: offset-to-symbol
// resolution with a pluggable strategy and an optional cache.
//
// Every built-in Strategy resolves entirely in-process via debug/elf
// and debug/dwarf, with no subprocess involved, which keeps heavy
// concurrent resolution from degenerating into a fork storm.
// DebugInfoStrategy is the accurate, slower one; callers can
// also supply their own Strategy.
package symresolve

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/perflow/perfprof/internal/frame"
	"github.com/perflow/perfprof/internal/perflog"
)

// Strategy resolves one (library, offset) pair. It must never return an
// error: an unresolved SymbolInfo is a value, not a failure.
type Strategy interface {
	Resolve(libraryPath string, offset uint64) frame.SymbolInfo
}

// StrategyKind names the built-in resolver strategies.
type StrategyKind int

const (
	// FastExportOnly uses the dynamic linker's address-to-name export
	// table only (cheap, often incomplete: no file/line).
	FastExportOnly StrategyKind = iota
	// DebugInfoOnly consumes debug info for addr2line-style resolution:
	// slower, resolves file/line.
	DebugInfoOnly
	// AutoFallback tries FastExportOnly first, then DebugInfoOnly if
	// the function name came back unresolved.
	AutoFallback
)

type cacheKey struct {
	libraryPath string
	offset      uint64
}

func (k cacheKey) hash() uint64 {
	h := xxhash.New()
	h.WriteString(k.libraryPath)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(k.offset >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// Resolver implements SymbolInfo lookup with an optional cache in front
// of a strategy (or pair of strategies, for AutoFallback).
type Resolver struct {
	fast  Strategy
	debug Strategy
	kind  StrategyKind

	cacheEnabled bool
	mu           sync.Mutex
	cache        map[uint64]cacheEntry // keyed by cacheKey.hash()

	hits   atomic.Int64
	misses atomic.Int64

	verbose bool // SYMBOL_DEBUG
}

type cacheEntry struct {
	key  cacheKey
	info frame.SymbolInfo
}

// Option configures a Resolver at construction.
type Option func(*Resolver)

// WithCache enables the resolver's (library_path, offset) -> SymbolInfo
// cache. Caching is disabled by default.
func WithCache() Option {
	return func(r *Resolver) { r.cacheEnabled = true; r.cache = make(map[uint64]cacheEntry) }
}

// WithVerboseLogging enables one log line per resolution attempt,
// corresponding to SYMBOL_DEBUG=1.
func WithVerboseLogging() Option {
	return func(r *Resolver) { r.verbose = true }
}

// New constructs a Resolver using the given strategy kind. fast and debug
// may be nil if that strategy is never selected by kind.
func New(kind StrategyKind, fast, debug Strategy, opts ...Option) *Resolver {
	r := &Resolver{kind: kind, fast: fast, debug: debug}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns symbol information for offset within libraryPath. A
// resolver call against an unknown library or an unreachable external
// symbolizer never fails: it returns an unresolved SymbolInfo.
func (r *Resolver) Resolve(libraryPath string, offset uint64) frame.SymbolInfo {
	key := cacheKey{libraryPath, offset}

	if r.cacheEnabled {
		h := key.hash()
		r.mu.Lock()
		entry, ok := r.cache[h]
		r.mu.Unlock()
		if ok && entry.key == key {
			r.hits.Add(1)
			if r.verbose {
				perflog.Default().Printf("symresolve: cache hit %s+%#x -> %q", libraryPath, offset, entry.info.FunctionName)
			}
			return entry.info
		}
		r.misses.Add(1)
	}

	info := r.invoke(libraryPath, offset)

	if r.cacheEnabled {
		h := key.hash()
		r.mu.Lock()
		r.cache[h] = cacheEntry{key: key, info: info}
		r.mu.Unlock()
	}
	if r.verbose {
		perflog.Default().Printf("symresolve: resolved %s+%#x -> %q (%s:%d)", libraryPath, offset, info.FunctionName, info.FileName, info.LineNumber)
	}
	return info
}

func (r *Resolver) invoke(libraryPath string, offset uint64) frame.SymbolInfo {
	switch r.kind {
	case FastExportOnly:
		return r.tryStrategy(r.fast, libraryPath, offset)
	case DebugInfoOnly:
		return r.tryStrategy(r.debug, libraryPath, offset)
	case AutoFallback:
		info := r.tryStrategy(r.fast, libraryPath, offset)
		if info.Resolved() {
			return info
		}
		return r.tryStrategy(r.debug, libraryPath, offset)
	default:
		return frame.SymbolInfo{}
	}
}

func (r *Resolver) tryStrategy(s Strategy, libraryPath string, offset uint64) frame.SymbolInfo {
	if s == nil {
		return frame.SymbolInfo{}
	}
	return s.Resolve(libraryPath, offset)
}

// ClearCache empties the cache and resets hit/miss counters.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	if r.cache != nil {
		r.cache = make(map[uint64]cacheEntry)
	}
	r.mu.Unlock()
	r.hits.Store(0)
	r.misses.Store(0)
}

// CacheStats returns (hits, misses, size). All three are zero when
// caching is disabled.
func (r *Resolver) CacheStats() (hits, misses, size int64) {
	if !r.cacheEnabled {
		return 0, 0, 0
	}
	r.mu.Lock()
	size = int64(len(r.cache))
	r.mu.Unlock()
	return r.hits.Load(), r.misses.Load(), size
}
