// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

import "context"

// Service is the remote append-only log service.
type Service interface {
	// CreateStream creates the stream. Returns an error wrapping
	// ErrStreamExists if it already exists; any other error means
	// the stream is unusable.
	CreateStream(ctx context.Context, group, stream string) error

	// CurrentToken returns the token the next append must carry:
	// the token returned by the most recent append, or
	// SentinelToken for a stream that has never been written.
	CurrentToken(ctx context.Context, group, stream string) (string, error)

	// AppendEvents appends events, in order, under token. Returns the
	// next token on success, or an error wrapping ErrTokenConflict
	// when token is stale. A failed append applies nothing.
	AppendEvents(ctx context.Context, group, stream, token string, events []Event) (string, error)
}

// Handle identifies a destination stream and its current
// continuation token.
type Handle struct {
	Group  string
	Stream string
	Token  string
}
