// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides logpipe's CBOR encoding configuration.
//
// CBOR is used for one thing: the payload of spool files that hold
// batches the final flush could not deliver. The encoder is
// deterministic so that the blake3 digest stored in the spool header
// can be recomputed from a decoded record when debugging.
//
// Types serialized here use `cbor` struct tags.
package codec
