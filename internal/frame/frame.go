// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package frame holds the small value types shared between address
// resolution and the performance tree: SymbolInfo and ResolvedFrame.
package frame

import "fmt"

// UnresolvedLibrary is the sentinel library name meaning no LibraryMap
// snapshot covered the raw address.
const UnresolvedLibrary = "[unresolved]"

// SymbolInfo is the result of offset-to-symbol resolution. It is
// "resolved" iff FunctionName is non-empty.
type SymbolInfo struct {
	FunctionName string
	FileName     string
	LineNumber   int
}

// Resolved reports whether symbolization succeeded.
func (s SymbolInfo) Resolved() bool {
	return s.FunctionName != ""
}

// ResolvedFrame is one stack frame after address resolution.
type ResolvedFrame struct {
	RawAddress   uint64
	LibraryName  string
	Offset       uint64
	FunctionName string
	FileName     string
	LineNumber   int
}

// HexOffset formats Offset the way AddressResolver falls back to when a
// frame has no resolved function name.
func HexOffset(offset uint64) string {
	return fmt.Sprintf("0x%x", offset)
}

// HexAddress formats an address the way an entirely unresolved frame's
// function name is populated.
func HexAddress(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}

// Unresolved builds the canonical unresolved ResolvedFrame for a raw
// address that no LibraryMap snapshot or region covers.
func Unresolved(addr uint64) ResolvedFrame {
	return ResolvedFrame{
		RawAddress:   addr,
		LibraryName:  UnresolvedLibrary,
		Offset:       addr,
		FunctionName: HexAddress(addr),
	}
}
