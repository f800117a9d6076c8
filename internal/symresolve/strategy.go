// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package symresolve

import (
	"debug/dwarf"
	"debug/elf"
	"sort"
	"sync"

	"github.com/perflow/perfprof/internal/frame"
)

// ExportTableStrategy resolves offsets against an ELF file's dynamic and
// static symbol tables only: fast, but never produces file/line
// information. This backs the FastExportOnly strategy kind.
type ExportTableStrategy struct {
	mu    sync.Mutex
	cache map[string][]elfSymbol // per library path
}

type elfSymbol struct {
	name string
	addr uint64
	size uint64
}

// NewExportTableStrategy returns a ready-to-use ExportTableStrategy.
func NewExportTableStrategy() *ExportTableStrategy {
	return &ExportTableStrategy{cache: make(map[string][]elfSymbol)}
}

func (e *ExportTableStrategy) symbolsFor(libraryPath string) []elfSymbol {
	e.mu.Lock()
	defer e.mu.Unlock()
	if syms, ok := e.cache[libraryPath]; ok {
		return syms
	}

	var syms []elfSymbol
	f, err := elf.Open(libraryPath)
	if err == nil {
		defer f.Close()
		syms = append(syms, readSymbols(f, f.Symbols)...)
		syms = append(syms, readSymbols(f, f.DynamicSymbols)...)
		sort.Slice(syms, func(i, j int) bool { return syms[i].addr < syms[j].addr })
	}
	e.cache[libraryPath] = syms
	return syms
}

func readSymbols(f *elf.File, get func() ([]elf.Symbol, error)) []elfSymbol {
	raw, err := get()
	if err != nil {
		return nil
	}
	out := make([]elfSymbol, 0, len(raw))
	for _, s := range raw {
		if s.Name == "" || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		out = append(out, elfSymbol{name: s.Name, addr: s.Value, size: s.Size})
	}
	return out
}

// Resolve implements Strategy.
func (e *ExportTableStrategy) Resolve(libraryPath string, offset uint64) frame.SymbolInfo {
	syms := e.symbolsFor(libraryPath)
	// Binary search for the last symbol whose address is <= offset.
	i := sort.Search(len(syms), func(i int) bool { return syms[i].addr > offset })
	if i == 0 {
		return frame.SymbolInfo{}
	}
	s := syms[i-1]
	if s.size != 0 && offset >= s.addr+s.size {
		return frame.SymbolInfo{}
	}
	return frame.SymbolInfo{FunctionName: s.name}
}

// DebugInfoStrategy resolves offsets against an ELF file's DWARF line
// table, in-process, avoiding the fork-storm hazard of shelling out
// to an addr2line-style subprocess
// under heavy analyzer concurrency, while keeping the same Strategy
// interface as ExportTableStrategy.
type DebugInfoStrategy struct {
	mu    sync.Mutex
	cache map[string]*dwarfIndex
}

type dwarfIndex struct {
	data *dwarf.Data
	// lines holds (address, file, line) in address order for binary
	// search; function names are resolved separately via functionAt,
	// since DWARF line and subprogram entries are walked independently.
	lines []dwarfLineEntry
}

type dwarfLineEntry struct {
	addr uint64
	file string
	line int
}

// NewDebugInfoStrategy returns a ready-to-use DebugInfoStrategy.
func NewDebugInfoStrategy() *DebugInfoStrategy {
	return &DebugInfoStrategy{cache: make(map[string]*dwarfIndex)}
}

func (d *DebugInfoStrategy) indexFor(libraryPath string) *dwarfIndex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx, ok := d.cache[libraryPath]; ok {
		return idx
	}

	idx := &dwarfIndex{}
	f, err := elf.Open(libraryPath)
	if err == nil {
		defer f.Close()
		if data, derr := f.DWARF(); derr == nil {
			idx.data = data
			idx.lines = buildLineIndex(data)
		}
	}
	d.cache[libraryPath] = idx
	return idx
}

func buildLineIndex(data *dwarf.Data) []dwarfLineEntry {
	var entries []dwarfLineEntry
	reader := data.Reader()
	for {
		cu, err := reader.Next()
		if err != nil || cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			reader.SkipChildren()
			continue
		}
		lr, err := data.LineReader(cu)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				break
			}
			if le.IsStmt {
				entries = append(entries, dwarfLineEntry{
					addr: le.Address,
					file: fileName(le.File),
					line: le.Line,
				})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })
	return entries
}

func fileName(f *dwarf.LineFile) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// Resolve implements Strategy.
func (d *DebugInfoStrategy) Resolve(libraryPath string, offset uint64) frame.SymbolInfo {
	idx := d.indexFor(libraryPath)
	if idx.data == nil || len(idx.lines) == 0 {
		return frame.SymbolInfo{}
	}
	i := sort.Search(len(idx.lines), func(i int) bool { return idx.lines[i].addr > offset })
	if i == 0 {
		return frame.SymbolInfo{}
	}
	entry := idx.lines[i-1]
	funcName := functionAt(idx.data, offset)
	if funcName == "" {
		return frame.SymbolInfo{}
	}
	return frame.SymbolInfo{FunctionName: funcName, FileName: entry.file, LineNumber: entry.line}
}

// functionAt walks DWARF subprogram entries to find the function whose
// [low_pc, high_pc) range contains offset.
func functionAt(data *dwarf.Data, offset uint64) string {
	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		high, highOK := highPC(entry, low)
		if !highOK {
			continue
		}
		if offset >= low && offset < high {
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				return name
			}
		}
	}
	return ""
}

func highPC(entry *dwarf.Entry, low uint64) (uint64, bool) {
	v := entry.Val(dwarf.AttrHighpc)
	switch hv := v.(type) {
	case uint64:
		// DWARF4+ may encode high_pc as an offset from low_pc.
		if hv < low {
			return low + hv, true
		}
		return hv, true
	case int64:
		return low + uint64(hv), true
	default:
		return 0, false
	}
}
