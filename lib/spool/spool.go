// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/logpipe/lib/codec"
	"github.com/bureau-foundation/logpipe/lib/logservice"
)

// Extension is the file name suffix of spool files.
const Extension = ".lpspool"

const (
	magic      = "LPSPOOL1"
	headerSize = len(magic) + 1 + 4 + 32

	// maxPayloadBytes bounds the allocation made for a header's
	// claimed length. A pending batch never approaches it.
	maxPayloadBytes = 64 << 20
)

// ErrCorrupt is returned by Read when a file fails validation.
var ErrCorrupt = errors.New("spool: corrupt file")

// Record is the content of one spool file: events that were pending
// for a stream when delivery gave up.
type Record struct {
	Group  string `cbor:"group"`
	Stream string `cbor:"stream"`

	// CreatedAt is when the record was written, in milliseconds
	// since the epoch.
	CreatedAt int64 `cbor:"created_at"`

	Events []logservice.Event `cbor:"events"`
}

// Write stores record in dir, creating dir if needed, and returns the
// new file's path.
func Write(dir string, record Record, compression Compression) (string, error) {
	encoded, err := codec.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("spool: encoding record: %w", err)
	}
	if len(encoded) > maxPayloadBytes {
		return "", fmt.Errorf("spool: record of %d bytes is too large", len(encoded))
	}

	payload, used, err := compress(encoded, compression)
	if err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	header[len(magic)] = byte(used)
	binary.BigEndian.PutUint32(header[len(magic)+1:], uint32(len(encoded)))
	digest := blake3.Sum256(encoded)
	copy(header[len(magic)+5:], digest[:])

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("spool: creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d-%s%s", record.CreatedAt, uuid.NewString(), Extension))
	if err := writeAtomic(path, header, payload); err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}
	return path, nil
}

// writeAtomic writes the concatenation of parts to a temporary file in
// the target's directory, syncs it and renames it to path.
func writeAtomic(path string, parts ...[]byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return err
	}
	defer os.Remove(temporary.Name())

	for _, part := range parts {
		if _, err := temporary.Write(part); err != nil {
			temporary.Close()
			return fmt.Errorf("writing %s: %w", temporary.Name(), err)
		}
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing %s: %w", temporary.Name(), err)
	}
	if err := temporary.Close(); err != nil {
		return err
	}
	return os.Rename(temporary.Name(), path)
}

// Read loads and validates a spool file. Any structural problem,
// including a digest mismatch, returns an error wrapping ErrCorrupt.
func Read(path string) (Record, error) {
	record, _, err := load(path)
	return record, err
}

// Payload returns the validated, uncompressed CBOR payload of a spool
// file, for inspection.
func Payload(path string) ([]byte, error) {
	_, encoded, err := load(path)
	return encoded, err
}

func load(path string) (Record, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, nil, fmt.Errorf("spool: %w", err)
	}

	corrupt := func(format string, args ...any) (Record, []byte, error) {
		return Record{}, nil, fmt.Errorf("%w: %s: %s", ErrCorrupt, path, fmt.Sprintf(format, args...))
	}

	if len(data) < headerSize {
		return corrupt("%d bytes is shorter than the header", len(data))
	}
	if !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return corrupt("bad magic %q", data[:len(magic)])
	}
	compression := Compression(data[len(magic)])
	size := binary.BigEndian.Uint32(data[len(magic)+1:])
	if size > maxPayloadBytes {
		return corrupt("claimed payload of %d bytes exceeds %d", size, maxPayloadBytes)
	}
	var digest [32]byte
	copy(digest[:], data[len(magic)+5:headerSize])

	encoded, err := decompress(data[headerSize:], compression, int(size))
	if err != nil {
		return corrupt("%v", err)
	}
	if blake3.Sum256(encoded) != digest {
		return corrupt("digest mismatch")
	}

	var record Record
	if err := codec.Unmarshal(encoded, &record); err != nil {
		return corrupt("decoding record: %v", err)
	}
	return record, encoded, nil
}

// List returns the spool files in dir, oldest first. A missing
// directory has no spool files.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), Extension) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	// Names start with the creation time in milliseconds; sorting by
	// the numeric prefix orders them oldest first.
	slices.SortFunc(paths, func(a, b string) int {
		return compareNames(filepath.Base(a), filepath.Base(b))
	})
	return paths, nil
}

func compareNames(a, b string) int {
	prefixA, _, _ := strings.Cut(a, "-")
	prefixB, _, _ := strings.Cut(b, "-")
	if len(prefixA) != len(prefixB) {
		return len(prefixA) - len(prefixB)
	}
	return strings.Compare(a, b)
}
