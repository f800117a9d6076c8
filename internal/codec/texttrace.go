// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package codec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/perflow/perfprof/internal/callstack"
	"github.com/perflow/perfprof/internal/internmap"
)

// WriteText writes m in the informational text format: one line per
// stack, "count<US>depth<US>addr,addr,..." where <US> is the ASCII unit
// separator (0x1F). It is not required to round-trip and exists purely
// for human inspection.
func WriteText(w io.Writer, m *internmap.Map[callstack.CallStack]) error {
	bw := bufio.NewWriter(w)
	var writeErr error
	m.ForEach(func(k callstack.CallStack, v uint64) {
		if writeErr != nil {
			return
		}
		frames := k.Frames()
		parts := make([]string, len(frames))
		for i, a := range frames {
			parts[i] = strconv.FormatUint(uint64(a), 16)
		}
		line := fmt.Sprintf("%d\x1f%d\x1f%s\n", v, len(frames), strings.Join(parts, ","))
		if _, err := bw.WriteString(line); err != nil {
			writeErr = fmt.Errorf("%w: %v", ErrFileWrite, err)
		}
	})
	if writeErr != nil {
		return writeErr
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	return nil
}
