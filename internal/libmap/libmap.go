// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package libmap implements LibraryMap, a snapshot of a process's
// executable memory regions parsed from a /proc/<pid>/maps-style text
// description, with address-range resolution back to (library, offset).
//
// Parsing itself is delegated to github.com/google/pprof/profile's
// ParseProcMaps, which already tokenizes /proc/<pid>/maps-style lines
// (and a few legacy variants), skips malformed entries, and drops
// non-executable mappings; this package only adapts the result to its
// own Region type.
package libmap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/pprof/profile"
)

// Region is a single executable memory mapping.
type Region struct {
	Name       string
	Base       uint64
	End        uint64
	Executable bool
}

// contains reports whether addr falls in [Base, End).
func (r Region) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End
}

// Map is an ordered list of a process's memory regions, filtered to the
// executable ones that participate in address lookup. Regions in one Map
// are pairwise non-overlapping.
type Map struct {
	regions []Region
}

// New returns an empty LibraryMap.
func New() *Map {
	return &Map{}
}

// ParseCurrentProcess parses /proc/self/maps.
func (m *Map) ParseCurrentProcess() bool {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return false
	}
	defer f.Close()
	return m.parseReader(f)
}

// ParseFile parses the memory-map text at path (e.g. /proc/<pid>/maps).
func (m *Map) ParseFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return m.parseReader(f)
}

// ParseFrom parses a memory-map text already in memory (e.g. a snapshot
// captured by the sampler at flush time and embedded in the trace).
func (m *Map) ParseFrom(text string) bool {
	return m.parseReader(strings.NewReader(text))
}

func (m *Map) parseReader(r io.Reader) bool {
	mappings, err := profile.ParseProcMaps(r)
	if err != nil || len(mappings) == 0 {
		return false
	}

	regions := make([]Region, len(mappings))
	for i, mp := range mappings {
		name := mp.File
		if name == "" {
			name = "[anon]"
		}
		// ParseProcMaps already drops non-executable mappings, so every
		// entry it returns is executable by construction.
		regions[i] = Region{Name: name, Base: mp.Start, End: mp.Limit, Executable: true}
	}
	m.regions = regions
	return true
}

// Resolve returns the (name, offset) of the region covering addr, or
// (\"\", 0, false) if no executable region covers it. The first matching
// region wins; regions from one parse never overlap.
func (m *Map) Resolve(addr uint64) (name string, offset uint64, ok bool) {
	for _, r := range m.regions {
		if r.contains(addr) {
			return r.Name, addr - r.Base, true
		}
	}
	return "", 0, false
}

// Regions returns the parsed executable regions, in parse order.
func (m *Map) Regions() []Region {
	return m.regions
}

// Clear discards all regions.
func (m *Map) Clear() {
	m.regions = nil
}

// SetRegions replaces the map's contents directly, bypassing the text
// parser. It is used by the trace codec to reconstruct a LibraryMap from
// a decoded .libmap file.
func (m *Map) SetRegions(regions []Region) {
	m.regions = regions
}

// FormatRegion renders a region the way it appeared in /proc maps output,
// for the informational text dump.
func FormatRegion(r Region) string {
	perm := "r--"
	if r.Executable {
		perm = "r-x"
	}
	return fmt.Sprintf("%016x-%016x %sp %s", r.Base, r.End, perm, r.Name)
}
