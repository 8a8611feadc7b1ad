// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package linereader reads lines from a file that another process is
// still writing, such as a child's captured stdout.
//
// Each ReadLines call reads to the current end of file without
// blocking and returns the complete lines found. A trailing fragment
// without a newline stays buffered until its newline arrives, or until
// Drain returns it as the final line once the writer has exited.
package linereader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/bureau-foundation/logpipe/lib/logservice"
)

// MaxLineBytes is the longest line returned, so that every line fits in
// one event. Longer lines are split into consecutive pieces of at most
// this size, cut between UTF-8 characters.
const MaxLineBytes = logservice.MaxEventBytes

const readChunk = 64 * 1024

// Reader is a single-use line reader over a growing file. It is not
// safe for concurrent use.
type Reader struct {
	file    *os.File
	partial []byte
	chunk   []byte
}

// Open opens path for reading from its beginning.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Reader{file: file, chunk: make([]byte, readChunk)}, nil
}

// ReadLines returns every complete line written since the previous
// call, without line terminators. It returns an empty slice when no
// new complete line is available.
func (r *Reader) ReadLines() ([]string, error) {
	if err := r.fill(); err != nil {
		return nil, err
	}
	return r.split(), nil
}

// Drain reads the rest of the file and returns its remaining lines,
// including a trailing fragment that never received a newline.
func (r *Reader) Drain() ([]string, error) {
	lines, err := r.ReadLines()
	if err != nil {
		return nil, err
	}
	if len(r.partial) > 0 {
		lines = append(lines, string(bytes.TrimSuffix(r.partial, []byte("\r"))))
		r.partial = nil
	}
	return lines, nil
}

// Close releases the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// fill appends everything up to the current end of file to partial.
func (r *Reader) fill() error {
	for {
		n, err := r.file.Read(r.chunk)
		r.partial = append(r.partial, r.chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", r.file.Name(), err)
		}
	}
}

// split removes the complete lines from partial and returns them.
// Oversized lines, and an oversized unterminated fragment, are cut at
// MaxLineBytes.
func (r *Reader) split() []string {
	lines := []string{}
	for {
		end := bytes.IndexByte(r.partial, '\n')
		if end < 0 {
			for len(r.partial) > MaxLineBytes {
				cut := cutPoint(r.partial)
				lines = append(lines, string(r.partial[:cut]))
				r.partial = r.partial[cut:]
			}
			break
		}

		line := bytes.TrimSuffix(r.partial[:end], []byte("\r"))
		for len(line) > MaxLineBytes {
			cut := cutPoint(line)
			lines = append(lines, string(line[:cut]))
			line = line[cut:]
		}
		lines = append(lines, string(line))
		r.partial = r.partial[end+1:]
	}

	// Release the backing array once it has been fully consumed.
	if len(r.partial) == 0 {
		r.partial = nil
	}
	return lines
}

// cutPoint returns where to split data, which is longer than
// MaxLineBytes: at MaxLineBytes, moved back to the start of a UTF-8
// sequence when that would split one. Data that is not UTF-8 is cut at
// MaxLineBytes.
func cutPoint(data []byte) int {
	for cut := MaxLineBytes; cut > MaxLineBytes-utf8.UTFMax; cut-- {
		if utf8.RuneStart(data[cut]) {
			return cut
		}
	}
	return MaxLineBytes
}
