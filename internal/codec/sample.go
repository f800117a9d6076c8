// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package codec

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/perflow/perfprof/internal/callstack"
	"github.com/perflow/perfprof/internal/internmap"
)

// sampleEntryHeaderSize is the fixed 16-byte per-entry header:
// (stack_depth:u32, _pad:u32, count:u64).
const sampleEntryHeaderSize = 16

// EncodeSamples writes every occupied (CallStack, count) pair from m to
// w as a .pflw file: a 64-byte header followed by one variable-length
// entry per stack.
func EncodeSamples(w io.Writer, m *internmap.Map[callstack.CallStack], maxStackDepth int, compression Compression) error {
	header := make([]byte, HeaderSize)
	writeCommonHeader(header, MagicSample, compression)

	var entries []struct {
		stack callstack.CallStack
		count uint64
	}
	m.ForEach(func(k callstack.CallStack, v uint64) {
		entries = append(entries, struct {
			stack callstack.CallStack
			count uint64
		}{k, v})
	})

	binary.LittleEndian.PutUint32(header[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(maxStackDepth))
	binary.LittleEndian.PutUint64(header[16:24], uint64(time.Now().UnixNano()))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}

	bw := bufio.NewWriter(w)
	var payload io.Writer = bw
	var gz *gzip.Writer
	if compression == CompressionGzip {
		gz = gzip.NewWriter(bw)
		payload = gz
	}

	entryHeader := make([]byte, sampleEntryHeaderSize)
	for _, e := range entries {
		frames := e.stack.Frames()
		binary.LittleEndian.PutUint32(entryHeader[0:4], uint32(len(frames)))
		binary.LittleEndian.PutUint32(entryHeader[4:8], 0)
		binary.LittleEndian.PutUint64(entryHeader[8:16], e.count)
		if _, err := payload.Write(entryHeader); err != nil {
			return fmt.Errorf("%w: %v", ErrFileWrite, err)
		}
		addrBuf := make([]byte, 8*len(frames))
		for i, a := range frames {
			binary.LittleEndian.PutUint64(addrBuf[i*8:i*8+8], uint64(a))
		}
		if _, err := payload.Write(addrBuf); err != nil {
			return fmt.Errorf("%w: %v", ErrFileWrite, err)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrFileWrite, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	return nil
}

// EncodeSamplesFile is a convenience wrapper that creates path and calls
// EncodeSamples.
func EncodeSamplesFile(path string, m *internmap.Map[callstack.CallStack], maxStackDepth int, compression Compression) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer f.Close()
	return EncodeSamples(f, m, maxStackDepth, compression)
}

// DecodeSamples reads a .pflw stream into a freshly constructed
// InternMap of the given capacity. A truncated trailing entry is
// tolerated: decoding stops and returns the map built so far along with
// a nil error; a writer may still be appending to the file. Any other
// malformed entry is a hard IntegrityError.
func DecodeSamples(r io.Reader, mapCapacity int) (*internmap.Map[callstack.CallStack], error) {
	header := make([]byte, HeaderSize)
	if err := readFull(r, header); err != nil {
		return nil, err
	}
	compression, err := readCommonHeader(header, MagicSample)
	if err != nil {
		return nil, err
	}
	maxStackDepth := binary.LittleEndian.Uint32(header[12:16])

	var payload io.Reader = r
	if compression == CompressionGzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
		}
		defer gz.Close()
		payload = gz
	}

	hashFn := func(s callstack.CallStack) uint64 { return s.Hash() }
	m := internmap.New[callstack.CallStack](mapCapacity, hashFn)

	entryHeader := make([]byte, sampleEntryHeaderSize)
	for {
		err := readFull(payload, entryHeader)
		if err == io.EOF {
			return m, nil
		}
		if IsTruncated(err) {
			return m, nil
		}
		if err != nil {
			return m, err
		}

		depth := binary.LittleEndian.Uint32(entryHeader[0:4])
		count := binary.LittleEndian.Uint64(entryHeader[8:16])
		if depth > maxStackDepth {
			return m, fmt.Errorf("%w: entry stack_depth %d exceeds header max_stack_depth %d", ErrIntegrityError, depth, maxStackDepth)
		}
		if depth > callstack.MaxDepth {
			return m, fmt.Errorf("%w: entry stack_depth %d exceeds compiled MaxDepth %d", ErrIntegrityError, depth, callstack.MaxDepth)
		}

		addrBuf := make([]byte, 8*depth)
		if err := readFull(payload, addrBuf); err != nil {
			if IsTruncated(err) {
				return m, nil
			}
			return m, err
		}
		addrs := make([]callstack.Address, depth)
		for i := range addrs {
			addrs[i] = callstack.Address(binary.LittleEndian.Uint64(addrBuf[i*8 : i*8+8]))
		}
		stack := callstack.FromSlice(addrs)
		if !m.Insert(stack, count) {
			return m, fmt.Errorf("%w", ErrOutOfCapacity)
		}
	}
}

// DecodeSamplesFile is a convenience wrapper that opens path and calls
// DecodeSamples.
func DecodeSamplesFile(path string, mapCapacity int) (*internmap.Map[callstack.CallStack], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer f.Close()
	return DecodeSamples(f, mapCapacity)
}
