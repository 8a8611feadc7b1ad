// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory is an in-process Service that enforces the same token and
// limit rules as the remote service. Tests use it as the destination
// for end-to-end runs; logpipe run --dry-run uses it instead of
// CloudWatch.
//
// Failures can be scripted with FailAppends and FailCreate.
type Memory struct {
	mu       sync.Mutex
	streams  map[streamKey]*memoryStream
	sequence uint64

	appendErrors []error
	createErr    error
	appendCalls  int
}

type streamKey struct {
	group  string
	stream string
}

type memoryStream struct {
	token  string
	events []Event
}

// NewMemory returns an empty Memory service.
func NewMemory() *Memory {
	return &Memory{streams: make(map[streamKey]*memoryStream)}
}

// CreateStream implements Service.
func (m *Memory) CreateStream(_ context.Context, group, stream string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	key := streamKey{group, stream}
	if _, exists := m.streams[key]; exists {
		return fmt.Errorf("memory: %s/%s: %w", group, stream, ErrStreamExists)
	}
	m.streams[key] = &memoryStream{token: SentinelToken}
	return nil
}

// CurrentToken implements Service.
func (m *Memory) CurrentToken(_ context.Context, group, stream string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.streams[streamKey{group, stream}]
	if !ok {
		return "", fmt.Errorf("memory: log stream %s/%s not found", group, stream)
	}
	return state.token, nil
}

// AppendEvents implements Service.
func (m *Memory) AppendEvents(_ context.Context, group, stream, token string, events []Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	if len(m.appendErrors) > 0 {
		err := m.appendErrors[0]
		m.appendErrors = m.appendErrors[1:]
		if err != nil {
			return "", err
		}
	}

	state, ok := m.streams[streamKey{group, stream}]
	if !ok {
		return "", fmt.Errorf("memory: log stream %s/%s not found", group, stream)
	}
	if token != state.token {
		return "", fmt.Errorf("memory: expected token %q, got %q: %w", state.token, token, ErrTokenConflict)
	}
	if len(events) == 0 {
		return "", fmt.Errorf("memory: empty append")
	}
	if len(events) > MaxBatchCount {
		return "", fmt.Errorf("memory: %d events exceeds limit of %d", len(events), MaxBatchCount)
	}
	if size := BatchSize(events); size > MaxBatchBytes {
		return "", fmt.Errorf("memory: batch of %d bytes exceeds limit of %d", size, MaxBatchBytes)
	}

	state.events = append(state.events, events...)
	m.sequence++
	state.token = strconv.FormatUint(m.sequence, 10)
	return state.token, nil
}

// Seed creates a stream that already holds events, as if another
// writer had used it. The stream's token is advanced past the seeded
// append.
func (m *Memory) Seed(group, stream string, events ...Event) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamKey{group, stream}
	state, ok := m.streams[key]
	if !ok {
		state = &memoryStream{token: SentinelToken}
		m.streams[key] = state
	}
	if len(events) > 0 {
		state.events = append(state.events, events...)
		m.sequence++
		state.token = strconv.FormatUint(m.sequence, 10)
	}
	return state.token
}

// FailAppends scripts the results of the next AppendEvents calls: each
// non-nil error is returned in order instead of applying the append; a
// nil entry lets that call proceed normally.
func (m *Memory) FailAppends(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErrors = append(m.appendErrors, errs...)
}

// FailCreate makes every subsequent CreateStream return err.
func (m *Memory) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// Events returns a copy of every event appended to the stream.
func (m *Memory) Events(group, stream string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.streams[streamKey{group, stream}]
	if !ok {
		return nil
	}
	return append([]Event(nil), state.events...)
}

// AppendCalls returns the number of AppendEvents calls received,
// including failed ones.
func (m *Memory) AppendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCalls
}
