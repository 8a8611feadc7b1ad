// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/logpipe/lib/process"
)

func main() {
	if err := run(); err != nil {
		// "logpipe run" returns the child's exit status this way; the
		// child already reported whatever went wrong.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return root(defaultEnvironment()).Execute(os.Args[1:])
}
