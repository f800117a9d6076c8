// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package perflog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPrintfOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})

	SetVerbose(false)
	Printf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("Printf with verbose off wrote %q, want nothing", buf.String())
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Printf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("Printf with verbose on wrote %q, want it to contain %q", buf.String(), "shown 2")
	}
}
