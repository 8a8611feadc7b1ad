// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool persists log events that could not be delivered, so
// they can be pushed later with "logpipe replay".
//
// A spool file holds one [Record] and is laid out as:
//
//	offset  size  field
//	0       8     magic "LPSPOOL1"
//	8       1     compression tag (0 none, 1 lz4, 2 zstd)
//	9       4     uncompressed payload length, big-endian
//	13      32    BLAKE3 digest of the uncompressed payload
//	45      n     payload, CBOR-encoded Record, compressed per the tag
//
// Files are written to a temporary name, synced and renamed into
// place, so a reader never observes a partial file under the final
// name.
package spool
