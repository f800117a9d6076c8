// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package codec

import "errors"

// Error kinds for codec and I/O failures. They are
// sentinel errors matched with errors.Is; wrapping with fmt.Errorf("%w")
// is expected so callers can add file-path context.
var (
	ErrFileOpen               = errors.New("codec: file open failed")
	ErrFileRead               = errors.New("codec: file read failed")
	ErrFileWrite              = errors.New("codec: file write failed")
	ErrInvalidFormat          = errors.New("codec: invalid format (bad magic)")
	ErrVersionMismatch        = errors.New("codec: version mismatch")
	ErrCompressionUnsupported = errors.New("codec: unsupported compression")
	ErrIntegrityError         = errors.New("codec: integrity error")
	ErrOutOfCapacity          = errors.New("codec: decoded entries exceed destination capacity")
	errTruncated              = errors.New("codec: truncated entry (file still being written)")
)

// IsTruncated reports whether err indicates a truncated trailing entry,
// which the analyzer tolerates rather than treats as a hard failure: a
// writer may still be appending to the file.
func IsTruncated(err error) bool {
	return errors.Is(err, errTruncated)
}
