// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/logpipe/lib/clock"
)

// Backoff between transport retries. Starts at initialBackoff and
// doubles on each consecutive failure, capped at maxBackoff.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// DefaultRetries is the number of extra attempts Push makes after a
// transport failure.
const DefaultRetries = 2

// Options configures a Client.
type Options struct {
	// Clock drives retry backoff. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives token refresh and retry diagnostics. Defaults
	// to slog.Default().
	Logger *slog.Logger

	// Retries is the number of extra attempts after a transport
	// failure. Zero uses DefaultRetries; negative disables retry.
	Retries int
}

// Stats is a snapshot of a Client's delivery counters.
type Stats struct {
	Pushes   uint64
	Events   uint64
	Failures uint64
}

// Client delivers event batches to one stream and exclusively owns
// the stream's continuation token. Push calls are serialized.
type Client struct {
	service Service
	clock   clock.Clock
	logger  *slog.Logger
	retries int

	mu     sync.Mutex
	handle Handle

	pushes   atomic.Uint64
	events   atomic.Uint64
	failures atomic.Uint64
}

// Open prepares the destination stream and returns a Client holding
// its token. A newly created stream starts at SentinelToken; a stream
// that already exists starts at the token the service reports for it.
// Any other creation failure is returned as a KindStreamCreation
// *Error.
func Open(ctx context.Context, service Service, group, stream string, options Options) (*Client, error) {
	if group == "" || stream == "" {
		return nil, &Error{Op: "open", Group: group, Stream: stream, Kind: KindStreamCreation,
			Err: errors.New("group and stream names are required")}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	switch {
	case options.Retries == 0:
		options.Retries = DefaultRetries
	case options.Retries < 0:
		options.Retries = 0
	}

	client := &Client{
		service: service,
		clock:   options.Clock,
		logger:  options.Logger.With("group", group, "stream", stream),
		retries: options.Retries,
		handle:  Handle{Group: group, Stream: stream},
	}

	err := service.CreateStream(ctx, group, stream)
	switch {
	case err == nil:
		client.handle.Token = SentinelToken
		client.logger.Debug("created log stream")
	case errors.Is(err, ErrStreamExists):
		client.logger.Warn("log stream already exists, fetching its token")
		token, tokenErr := service.CurrentToken(ctx, group, stream)
		if tokenErr != nil {
			return nil, &Error{Op: "open", Group: group, Stream: stream, Kind: KindStreamCreation,
				Err: fmt.Errorf("fetching token of existing stream: %w", tokenErr)}
		}
		client.handle.Token = token
	default:
		return nil, &Error{Op: "open", Group: group, Stream: stream, Kind: KindStreamCreation, Err: err}
	}

	return client, nil
}

// Push appends events to the stream under the current token and, on
// success, replaces the token with the one the service returned.
//
// A token conflict triggers one token lookup and one retry of the
// same batch; a second conflict is returned as KindTokenConflict.
// Transport failures are retried with exponential backoff up to the
// configured retry count and then returned as KindTransport. On any
// failure the stored token is unchanged.
func (c *Client) Push(ctx context.Context, events []Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(events) == 0 {
		return c.handle.Token, nil
	}

	token := c.handle.Token
	refreshed := false
	backoff := initialBackoff
	attempt := 0

	for {
		next, err := c.service.AppendEvents(ctx, c.handle.Group, c.handle.Stream, token, events)
		if err == nil {
			c.handle.Token = next
			c.pushes.Add(1)
			c.events.Add(uint64(len(events)))
			c.logger.Debug("pushed batch", "events", len(events), "bytes", BatchSize(events))
			return next, nil
		}

		if errors.Is(err, ErrTokenConflict) {
			if refreshed {
				c.failures.Add(1)
				return "", c.pushError(KindTokenConflict, err)
			}
			refreshed = true
			current, lookupErr := c.service.CurrentToken(ctx, c.handle.Group, c.handle.Stream)
			if lookupErr != nil {
				c.failures.Add(1)
				return "", c.pushError(KindTransport, fmt.Errorf("refreshing token after conflict: %w", lookupErr))
			}
			c.logger.Warn("continuation token conflict, retrying with refreshed token",
				"stale_token", token)
			token = current
			continue
		}

		if ctx.Err() != nil || attempt >= c.retries {
			c.failures.Add(1)
			return "", c.pushError(KindTransport, err)
		}
		attempt++
		c.logger.Warn("push failed, will retry",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)
		select {
		case <-c.clock.After(backoff):
		case <-ctx.Done():
			c.failures.Add(1)
			return "", c.pushError(KindTransport, err)
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// RefreshToken replaces the stored token with the one the service
// currently reports. Callers use it after a KindTokenConflict when
// another writer is known to have appended to the stream.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.service.CurrentToken(ctx, c.handle.Group, c.handle.Stream)
	if err != nil {
		return "", c.pushError(KindTransport, fmt.Errorf("refreshing token: %w", err))
	}
	c.handle.Token = token
	return token, nil
}

// Handle returns a copy of the stream handle.
func (c *Client) Handle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Token returns the current continuation token.
func (c *Client) Token() string {
	return c.Handle().Token
}

// Stats returns the delivery counters.
func (c *Client) Stats() Stats {
	return Stats{
		Pushes:   c.pushes.Load(),
		Events:   c.events.Load(),
		Failures: c.failures.Load(),
	}
}

func (c *Client) pushError(kind Kind, err error) *Error {
	return &Error{Op: "push", Group: c.handle.Group, Stream: c.handle.Stream, Kind: kind, Err: err}
}
