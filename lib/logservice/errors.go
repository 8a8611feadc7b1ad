// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Service implementations. Implementations
// wrap them with service-specific detail; callers test with errors.Is.
var (
	// ErrStreamExists reports that CreateStream found the stream
	// already present. Open recovers from it by fetching the token.
	ErrStreamExists = errors.New("log stream already exists")

	// ErrTokenConflict reports that AppendEvents rejected the
	// continuation token as stale.
	ErrTokenConflict = errors.New("continuation token conflict")
)

// Kind classifies a delivery failure.
type Kind int

const (
	// KindStreamCreation: the destination stream could not be created
	// and does not already exist. Unrecoverable.
	KindStreamCreation Kind = iota + 1

	// KindTokenConflict: the append was rejected for a stale token
	// even after refreshing the token once.
	KindTokenConflict

	// KindTransport: a network or service failure unrelated to token
	// state. The batch was not applied.
	KindTransport
)

// String returns the kind's name for log output.
func (k Kind) String() string {
	switch k {
	case KindStreamCreation:
		return "stream_creation"
	case KindTokenConflict:
		return "token_conflict"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by Open and Push. Callers extract
// the kind with errors.As:
//
//	var deliveryErr *logservice.Error
//	if errors.As(err, &deliveryErr) && deliveryErr.Kind == logservice.KindTokenConflict { ... }
type Error struct {
	// Op is the client operation that failed ("open" or "push").
	Op string
	// Group and Stream identify the destination.
	Group  string
	Stream string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("logservice: %s %s/%s: %s: %v", e.Op, e.Group, e.Stream, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var deliveryErr *Error
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Kind == kind
	}
	return false
}
