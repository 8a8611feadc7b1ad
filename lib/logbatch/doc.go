// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logbatch accumulates log lines into ordered batches and
// decides when a batch must be delivered.
//
// An [Engine] owns one pending batch. Every [Engine.Log] call first
// evaluates three thresholds against the batch as it stands (age of
// the oldest event, accumulated size, event count); if one is crossed
// the existing batch is pushed before the new event is appended. The
// thresholds sit below the remote service's hard limits so the event
// being appended always fits.
//
// The engine never retries a failed push and never drops a batch it
// could not deliver: the batch stays pending until a later flush
// succeeds, and [Engine.Pending] exposes it so callers can persist it
// elsewhere. Retry policy belongs to the [Pusher].
package logbatch
