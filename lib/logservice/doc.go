// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logservice delivers batches of log events to an append-only
// remote log stream and owns the stream's continuation token.
//
// The remote side is abstracted as [Service], which has three
// operations: create a stream, look up the stream's current token, and
// append events under a token. The service accepts an append only when
// the token matches the value returned by the previous successful
// append, so exactly one token is valid at any time. [Client] is the
// only thing that holds that token:
//
//	client, err := logservice.Open(ctx, service, "batch-jobs", "nightly", logservice.Options{})
//	next, err := client.Push(ctx, events)
//
// Open creates the stream, or, if it already exists, fetches its
// current token instead of starting from [SentinelToken]. Push
// replaces the token only on success, so a failed push can be retried
// with the same token.
//
// Two Service implementations are provided: [CloudWatch] talks to
// Amazon CloudWatch Logs through aws-sdk-go, and [Memory] keeps
// streams in process with the same token rules (used by tests and by
// logpipe run --dry-run).
package logservice
