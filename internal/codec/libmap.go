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

	"github.com/perflow/perfprof/internal/libmap"
)

// libMapEntryFixedSize is the fixed portion of each entry: (base:u64,
// end:u64, executable:u8, _pad:u8x3, name_length:u32) = 24 bytes: 21
// bytes of data plus 3 pad bytes so name_length stays naturally aligned.
const libMapEntryFixedSize = 24

// maxLibraryNameLength bounds name_length in decoded entries.
const maxLibraryNameLength = 4096

// EncodeLibMap writes a LibraryMap snapshot for processID as a .libmap
// file.
func EncodeLibMap(w io.Writer, processID uint32, lm *libmap.Map, compression Compression) error {
	header := make([]byte, HeaderSize)
	writeCommonHeader(header, MagicLibMap, compression)

	regions := lm.Regions()
	binary.LittleEndian.PutUint32(header[8:12], processID)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(regions)))
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

	entryHeader := make([]byte, libMapEntryFixedSize)
	for _, r := range regions {
		binary.LittleEndian.PutUint64(entryHeader[0:8], r.Base)
		binary.LittleEndian.PutUint64(entryHeader[8:16], r.End)
		if r.Executable {
			entryHeader[16] = 1
		} else {
			entryHeader[16] = 0
		}
		entryHeader[17], entryHeader[18], entryHeader[19] = 0, 0, 0
		nameBytes := []byte(r.Name)
		binary.LittleEndian.PutUint32(entryHeader[20:24], uint32(len(nameBytes)))
		if _, err := payload.Write(entryHeader); err != nil {
			return fmt.Errorf("%w: %v", ErrFileWrite, err)
		}
		if _, err := payload.Write(nameBytes); err != nil {
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

// EncodeLibMapFile is a convenience wrapper that creates path.
func EncodeLibMapFile(path string, processID uint32, lm *libmap.Map, compression Compression) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer f.Close()
	return EncodeLibMap(f, processID, lm, compression)
}

// DecodeLibMap reads a .libmap stream, returning the process ID it was
// tagged with and the reconstructed LibraryMap. As with DecodeSamples, a
// truncated trailing entry stops decoding without an error.
func DecodeLibMap(r io.Reader) (processID uint32, lm *libmap.Map, err error) {
	header := make([]byte, HeaderSize)
	if err := readFull(r, header); err != nil {
		return 0, nil, err
	}
	compression, err := readCommonHeader(header, MagicLibMap)
	if err != nil {
		return 0, nil, err
	}
	processID = binary.LittleEndian.Uint32(header[8:12])

	var payload io.Reader = r
	if compression == CompressionGzip {
		gz, gzErr := gzip.NewReader(r)
		if gzErr != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrFileRead, gzErr)
		}
		defer gz.Close()
		payload = gz
	}

	var regions []libmap.Region
	entryHeader := make([]byte, libMapEntryFixedSize)
	for {
		readErr := readFull(payload, entryHeader)
		if readErr == io.EOF || IsTruncated(readErr) {
			break
		}
		if readErr != nil {
			return processID, buildMap(regions), readErr
		}

		base := binary.LittleEndian.Uint64(entryHeader[0:8])
		end := binary.LittleEndian.Uint64(entryHeader[8:16])
		executable := entryHeader[16] != 0
		nameLength := binary.LittleEndian.Uint32(entryHeader[20:24])
		if nameLength > maxLibraryNameLength {
			return processID, buildMap(regions), fmt.Errorf("%w: name_length %d exceeds max %d", ErrIntegrityError, nameLength, maxLibraryNameLength)
		}

		nameBuf := make([]byte, nameLength)
		if readErr := readFull(payload, nameBuf); readErr != nil {
			if IsTruncated(readErr) {
				break
			}
			return processID, buildMap(regions), readErr
		}

		regions = append(regions, libmap.Region{
			Name:       string(nameBuf),
			Base:       base,
			End:        end,
			Executable: executable,
		})
	}

	return processID, buildMap(regions), nil
}

// DecodeLibMapFile is a convenience wrapper that opens path.
func DecodeLibMapFile(path string) (processID uint32, lm *libmap.Map, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer f.Close()
	return DecodeLibMap(f)
}

func buildMap(regions []libmap.Region) *libmap.Map {
	m := libmap.New()
	m.SetRegions(regions)
	return m
}
