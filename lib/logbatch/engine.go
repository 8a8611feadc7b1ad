// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/logpipe/lib/clock"
	"github.com/bureau-foundation/logpipe/lib/logservice"
)

var (
	// ErrClosed is returned by Log, LogAt and Append after Close.
	ErrClosed = errors.New("logbatch: engine closed")

	// ErrFull is returned by Append when the event does not fit.
	ErrFull = errors.New("logbatch: batch full")
)

// Pusher delivers one ordered batch and returns the stream's next
// continuation token. *logservice.Client satisfies it.
type Pusher interface {
	Push(ctx context.Context, events []logservice.Event) (string, error)
}

// Options configures an Engine.
type Options struct {
	// Clock supplies event timestamps and the age threshold's "now".
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives a debug record for every threshold flush.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Limits overrides the flush thresholds. The zero value uses
	// DefaultLimits().
	Limits Limits
}

// Ack describes a successful flush.
type Ack struct {
	Events int
	Bytes  int
	Token  string
}

// Engine is the pending batch and its flush policy. All methods are
// safe for concurrent use; batch mutation and delivery are serialized
// under one mutex, so events are delivered in the order Log accepted
// them.
type Engine struct {
	pusher Pusher
	clock  clock.Clock
	logger *slog.Logger
	limits Limits

	mu        sync.Mutex
	events    []logservice.Event
	sizeBytes int
	closed    bool
}

// New creates an Engine with an empty batch.
func New(pusher Pusher, options Options) *Engine {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Limits == (Limits{}) {
		options.Limits = DefaultLimits()
	}
	return &Engine{
		pusher: pusher,
		clock:  options.Clock,
		logger: options.Logger,
		limits: options.Limits,
	}
}

// Log appends message stamped with the clock's current time. See LogAt.
func (e *Engine) Log(ctx context.Context, message string) error {
	if message == "" {
		return nil
	}
	return e.LogAt(ctx, message, clock.UnixMilli(e.clock))
}

// LogAt appends message with the given timestamp in milliseconds
// since the epoch. An empty message is ignored.
//
// Before appending, the thresholds are evaluated against the existing
// batch; if one is crossed that batch is flushed first. When that
// flush fails the message is not appended and the error is returned:
// the retained batch is unchanged and the caller decides whether to
// retry.
func (e *Engine) LogAt(ctx context.Context, message string, timestampMillis int64) error {
	if message == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	event := logservice.Event{Timestamp: timestampMillis, Message: message}

	if len(e.events) > 0 {
		reason := e.limits.Check(clock.UnixMilli(e.clock), e.events[0].Timestamp, e.sizeBytes, len(e.events))
		if reason == ReasonNone && e.limits.Overflows(e.sizeBytes, len(e.events), event.Size()) {
			reason = ReasonOverflow
		}
		if reason != ReasonNone {
			e.logger.Debug("batch threshold reached",
				"reason", reason.String(),
				"events", len(e.events),
				"bytes", e.sizeBytes,
			)
			if _, err := e.flushLocked(ctx); err != nil {
				return fmt.Errorf("flushing batch on %s threshold: %w", reason, err)
			}
		}
	}

	e.appendLocked(event)
	return nil
}

// Append adds message to the batch without evaluating thresholds, so
// it never pushes. It fails with ErrFull when the event would exceed
// the hard limits. Callers use it to record a final event on a path
// where they will flush exactly once themselves.
func (e *Engine) Append(message string) error {
	if message == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	event := logservice.Event{Timestamp: clock.UnixMilli(e.clock), Message: message}
	if e.limits.Overflows(e.sizeBytes, len(e.events), event.Size()) {
		return ErrFull
	}
	e.appendLocked(event)
	return nil
}

func (e *Engine) appendLocked(event logservice.Event) {
	e.events = append(e.events, event)
	e.sizeBytes += event.Size()
}

// Flush pushes the pending batch. An empty batch returns a zero Ack
// without calling the Pusher. On failure the batch is retained intact
// for a later attempt.
func (e *Engine) Flush(ctx context.Context) (Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx)
}

// Close performs a final Flush. Afterwards Log and LogAt return
// ErrClosed; Flush and Pending still work so a caller can retry or
// persist a batch the final flush could not deliver.
func (e *Engine) Close(ctx context.Context) (Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return e.flushLocked(ctx)
}

func (e *Engine) flushLocked(ctx context.Context) (Ack, error) {
	if len(e.events) == 0 {
		return Ack{}, nil
	}

	token, err := e.pusher.Push(ctx, e.events)
	if err != nil {
		return Ack{}, err
	}

	ack := Ack{Events: len(e.events), Bytes: e.sizeBytes, Token: token}
	e.events = nil
	e.sizeBytes = 0
	return ack, nil
}

// Pending returns a copy of the undelivered batch in delivery order.
func (e *Engine) Pending() []logservice.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]logservice.Event(nil), e.events...)
}

// Len returns the number of pending events.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// SizeBytes returns the pending batch's size as the service accounts
// it: message bytes plus logservice.HeaderOverhead per event.
func (e *Engine) SizeBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sizeBytes
}
