// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package symresolve

import (
	"testing"

	"github.com/perflow/perfprof/internal/frame"
)

type fakeStrategy struct {
	calls int
	info  frame.SymbolInfo
}

func (f *fakeStrategy) Resolve(libraryPath string, offset uint64) frame.SymbolInfo {
	f.calls++
	return f.info
}

func TestFastExportOnlyUsesFastStrategy(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	debug := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "debug_fn"}}
	r := New(FastExportOnly, fast, debug)

	info := r.Resolve("/lib/libc.so.6", 0x100)
	if info.FunctionName != "fast_fn" {
		t.Fatalf("FunctionName = %q, want fast_fn", info.FunctionName)
	}
	if debug.calls != 0 {
		t.Fatalf("debug strategy should not be invoked under FastExportOnly")
	}
}

func TestDebugInfoOnlyUsesDebugStrategy(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	debug := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "debug_fn", FileName: "x.c", LineNumber: 10}}
	r := New(DebugInfoOnly, fast, debug)

	info := r.Resolve("/lib/libc.so.6", 0x100)
	if info.FunctionName != "debug_fn" || info.LineNumber != 10 {
		t.Fatalf("got %+v, want debug_fn/10", info)
	}
	if fast.calls != 0 {
		t.Fatalf("fast strategy should not be invoked under DebugInfoOnly")
	}
}

func TestAutoFallbackTriesDebugWhenFastUnresolved(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{}}
	debug := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "debug_fn"}}
	r := New(AutoFallback, fast, debug)

	info := r.Resolve("/lib/libc.so.6", 0x100)
	if info.FunctionName != "debug_fn" {
		t.Fatalf("FunctionName = %q, want debug_fn", info.FunctionName)
	}
	if fast.calls != 1 || debug.calls != 1 {
		t.Fatalf("fast.calls=%d debug.calls=%d, want 1,1", fast.calls, debug.calls)
	}
}

func TestAutoFallbackSkipsDebugWhenFastResolved(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	debug := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "debug_fn"}}
	r := New(AutoFallback, fast, debug)

	if info := r.Resolve("/lib/libc.so.6", 0x100); info.FunctionName != "fast_fn" {
		t.Fatalf("FunctionName = %q, want fast_fn", info.FunctionName)
	}
	if debug.calls != 0 {
		t.Fatalf("debug strategy should not be invoked when fast resolved")
	}
}

func TestCacheAvoidsRepeatedStrategyInvocation(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	r := New(FastExportOnly, fast, nil, WithCache())

	r.Resolve("/lib/libc.so.6", 0x100)
	r.Resolve("/lib/libc.so.6", 0x100)
	r.Resolve("/lib/libc.so.6", 0x100)

	if fast.calls != 1 {
		t.Fatalf("fast.calls = %d, want 1 (cached)", fast.calls)
	}
	hits, misses, size := r.CacheStats()
	if hits != 2 || misses != 1 || size != 1 {
		t.Fatalf("hits=%d misses=%d size=%d, want 2,1,1", hits, misses, size)
	}
}

func TestCacheDistinguishesOffsetsAndLibraries(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	r := New(FastExportOnly, fast, nil, WithCache())

	r.Resolve("/lib/libc.so.6", 0x100)
	r.Resolve("/lib/libc.so.6", 0x200)
	r.Resolve("/lib/libm.so.6", 0x100)

	if fast.calls != 3 {
		t.Fatalf("fast.calls = %d, want 3 (distinct keys)", fast.calls)
	}
}

func TestClearCacheResetsStatsAndEntries(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	r := New(FastExportOnly, fast, nil, WithCache())

	r.Resolve("/lib/libc.so.6", 0x100)
	r.ClearCache()

	hits, misses, size := r.CacheStats()
	if hits != 0 || misses != 0 || size != 0 {
		t.Fatalf("got %d,%d,%d after ClearCache, want 0,0,0", hits, misses, size)
	}
	r.Resolve("/lib/libc.so.6", 0x100)
	if fast.calls != 2 {
		t.Fatalf("fast.calls = %d, want 2 (cache was cleared)", fast.calls)
	}
}

func TestCacheDisabledByDefault(t *testing.T) {
	fast := &fakeStrategy{info: frame.SymbolInfo{FunctionName: "fast_fn"}}
	r := New(FastExportOnly, fast, nil)

	r.Resolve("/lib/libc.so.6", 0x100)
	r.Resolve("/lib/libc.so.6", 0x100)

	if fast.calls != 2 {
		t.Fatalf("fast.calls = %d, want 2 (no caching)", fast.calls)
	}
	hits, misses, size := r.CacheStats()
	if hits != 0 || misses != 0 || size != 0 {
		t.Fatalf("CacheStats should be zero when caching disabled, got %d,%d,%d", hits, misses, size)
	}
}

func TestNilStrategyReturnsUnresolved(t *testing.T) {
	r := New(DebugInfoOnly, nil, nil)
	info := r.Resolve("/lib/libc.so.6", 0x100)
	if info.Resolved() {
		t.Fatalf("expected unresolved result with nil strategy, got %+v", info)
	}
}
