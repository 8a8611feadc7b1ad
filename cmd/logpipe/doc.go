// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Logpipe runs a command and ships its stdout and stderr, line by
// line, to a CloudWatch Logs stream. Output is batched under the
// service's size, count and age limits; logpipe exits with the
// command's exit status.
//
// Events that could not be delivered are written to a spool directory
// (--spool-dir) and can be pushed later with "logpipe replay".
package main
