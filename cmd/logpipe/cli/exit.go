// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError carries an exit code to main without an error message of
// its own. "logpipe run" returns one holding the child's exit status,
// so logpipe exits the way the child did.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks returned errors for
// this method to tell a handled non-zero exit from an error to print.
func (e *ExitError) ExitCode() int {
	return e.Code
}
