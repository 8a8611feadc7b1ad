// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the child command whose output logpipe
// ships.
//
// [Start] spawns the child with its stdout and stderr redirected to
// two capture files, which the caller reads with package linereader
// while the child runs. The child's exit is collected on a background
// goroutine; [Process.IsRunning] and [Process.ExitStatus] read the
// published result without blocking.
//
// A [ForwardTable] lists the signals that are relayed from this
// process to the child. It is built once from configuration by
// [ParseSignals]; signals outside the table keep their normal meaning
// for logpipe itself.
package supervisor
