// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver runs one child process and ships its output.
//
// [Run] opens the destination stream, starts the child, and polls the
// child's capture files on a ticker, feeding every line to a
// logbatch.Engine until the child exits. It then drains the remaining
// output, optionally records the child's return code as a final event,
// closes the engine and returns the child's exit status.
//
// When delivery fails mid-run the child is killed, the error text is
// recorded as an event, one best-effort flush is made, and whatever is
// still undelivered is written to the spool directory if one is
// configured.
package driver
