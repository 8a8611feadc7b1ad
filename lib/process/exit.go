// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// exit is replaced in tests.
var exit = os.Exit

// Fatal writes "logpipe: error: err" to stderr and exits with code 1.
// Use it in main() for errors from run() where the structured logger
// may not be initialized.
func Fatal(err error) {
	FatalCode(1, err)
}

// FatalCode is Fatal with an explicit exit code.
func FatalCode(code int, err error) {
	report(os.Stderr, err)
	exit(code)
}

func report(w io.Writer, err error) {
	fmt.Fprintf(w, "logpipe: error: %v\n", err)
}
