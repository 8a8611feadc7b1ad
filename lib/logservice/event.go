// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

// Service limits and per-event framing, as imposed by CloudWatch Logs
// PutLogEvents.
const (
	// HeaderOverhead is the fixed per-event cost the service adds to
	// the message length when enforcing MaxBatchBytes.
	HeaderOverhead = 26

	// MaxBatchBytes is the hard limit on the summed event sizes of a
	// single append.
	MaxBatchBytes = 1048576

	// MaxBatchCount is the hard limit on events per append.
	MaxBatchCount = 1000

	// MaxEventBytes is the largest message a single event may carry.
	MaxEventBytes = 256*1024 - HeaderOverhead
)

// SentinelToken is the continuation token of a stream that has never
// been written to.
const SentinelToken = "0"

// Event is one captured line.
type Event struct {
	// Timestamp is milliseconds since the Unix epoch, UTC.
	Timestamp int64 `cbor:"timestamp"`

	// Message is the line without its terminator. Never empty.
	Message string `cbor:"message"`
}

// Size returns the event's contribution to a batch's byte size.
func (e Event) Size() int {
	return len(e.Message) + HeaderOverhead
}

// BatchSize returns the summed Size of events.
func BatchSize(events []Event) int {
	total := 0
	for _, event := range events {
		total += event.Size()
	}
	return total
}
