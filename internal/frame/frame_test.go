// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package frame

import "testing"

func TestSymbolInfoResolved(t *testing.T) {
	cases := []struct {
		name string
		info SymbolInfo
		want bool
	}{
		{"empty", SymbolInfo{}, false},
		{"function name set", SymbolInfo{FunctionName: "main"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.info.Resolved(); got != c.want {
				t.Errorf("Resolved() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestHexFormatting(t *testing.T) {
	if got, want := HexOffset(0x2a), "0x2a"; got != want {
		t.Errorf("HexOffset(0x2a) = %q, want %q", got, want)
	}
	if got, want := HexAddress(0x1000), "0x1000"; got != want {
		t.Errorf("HexAddress(0x1000) = %q, want %q", got, want)
	}
}

func TestUnresolved(t *testing.T) {
	f := Unresolved(0x4000)
	if f.LibraryName != UnresolvedLibrary {
		t.Errorf("LibraryName = %q, want %q", f.LibraryName, UnresolvedLibrary)
	}
	if f.RawAddress != 0x4000 || f.Offset != 0x4000 {
		t.Errorf("RawAddress/Offset = %#x/%#x, want both 0x4000", f.RawAddress, f.Offset)
	}
	if f.FunctionName != "0x4000" {
		t.Errorf("FunctionName = %q, want %q", f.FunctionName, "0x4000")
	}
}
