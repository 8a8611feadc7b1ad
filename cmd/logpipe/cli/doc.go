// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the logpipe
// binary: a tree of [Command] values with pflag flag sets, help
// output, "did you mean" suggestions for mistyped commands and flags,
// the [ExitError] convention for passing a child's exit code to main,
// and the structured logger used by every command.
package cli
