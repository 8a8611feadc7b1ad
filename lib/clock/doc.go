// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The batching engine decides whether a batch is stale by comparing
// the oldest event's timestamp with Now, and the delivery client backs
// off between retries with After. Both read time through a Clock so
// that tests can construct a batch, move time forward 30 seconds with
// Advance, and observe the flush deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := logbatch.New(client, logbatch.Options{Clock: fake})
//	engine.Log(ctx, "first")
//	fake.Advance(30 * time.Second)
//	engine.Log(ctx, "second") // flushes "first" before appending
//
// Goroutines that block on After, Sleep or a Ticker register a pending
// waiter on a FakeClock. Call WaitForTimers before Advance to avoid
// racing the registration.
package clock
