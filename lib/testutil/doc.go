// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for logpipe packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests that wait on goroutines (a push blocked in backoff,
// a supervised child exiting) never hang the suite. They are the only
// place tests use real wall-clock timeouts; everything else runs on
// clock.Fake.
//
// [UniqueID] generates distinct stream names for tests that share a
// service.
//
// All helpers call t.Fatalf on failure.
package testutil
