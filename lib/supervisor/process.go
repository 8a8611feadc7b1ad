// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// UnbufferCommand is prefixed to the child's command line when
// Spec.Unbuffer is set. It runs the child on a pseudo-terminal so
// stdio libraries line-buffer their output.
const UnbufferCommand = "unbuffer"

// Spec describes the child to run.
type Spec struct {
	// Command is the program and its arguments. Required.
	Command []string

	// Env is the child's environment. Nil inherits this process's
	// environment.
	Env []string

	// Dir is the child's working directory. Empty inherits ours.
	Dir string

	// CaptureDir holds the stdout and stderr capture files. Empty
	// uses os.TempDir().
	CaptureDir string

	// Unbuffer runs the command under UnbufferCommand.
	Unbuffer bool

	Logger *slog.Logger
}

// Process is a started child.
type Process struct {
	command    *exec.Cmd
	stdoutPath string
	stderrPath string
	logger     *slog.Logger

	// done is closed after exitStatus and waitErr are set.
	done       chan struct{}
	exitStatus int
	waitErr    error
}

// Start creates the capture files and starts the child. Cancelling ctx
// kills the child. The files remain on disk until Cleanup.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("supervisor: no command specified")
	}
	if spec.Logger == nil {
		spec.Logger = slog.Default()
	}

	argv := spec.Command
	if spec.Unbuffer {
		argv = append([]string{UnbufferCommand}, argv...)
	}

	stdout, err := os.CreateTemp(spec.CaptureDir, "logpipe-stdout-*")
	if err != nil {
		return nil, fmt.Errorf("supervisor: creating stdout capture file: %w", err)
	}
	stderr, err := os.CreateTemp(spec.CaptureDir, "logpipe-stderr-*")
	if err != nil {
		stdout.Close()
		os.Remove(stdout.Name())
		return nil, fmt.Errorf("supervisor: creating stderr capture file: %w", err)
	}

	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Stdout = stdout
	command.Stderr = stderr
	command.Env = spec.Env
	command.Dir = spec.Dir

	process := &Process{
		command:    command,
		stdoutPath: stdout.Name(),
		stderrPath: stderr.Name(),
		logger:     spec.Logger,
		done:       make(chan struct{}),
	}

	startErr := command.Start()

	// The child holds its own descriptors; ours are not needed for
	// writing.
	stdout.Close()
	stderr.Close()

	if startErr != nil {
		process.Cleanup()
		return nil, fmt.Errorf("supervisor: starting %s: %w", argv[0], startErr)
	}

	process.logger.Debug("started child",
		"pid", command.Process.Pid,
		"command", argv,
		"stdout", process.stdoutPath,
		"stderr", process.stderrPath,
	)

	go process.wait()
	return process, nil
}

func (p *Process) wait() {
	err := p.command.Wait()
	p.exitStatus = exitStatus(p.command.ProcessState)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.logger.Debug("child exited", "pid", p.command.Process.Pid, "status", p.exitStatus)
	close(p.done)
}

// exitStatus converts a process state to a shell-style status: the
// exit code, or 128 plus the signal number when a signal killed it.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// Pid returns the child's process ID.
func (p *Process) Pid() int {
	return p.command.Process.Pid
}

// IsRunning reports whether the child has not yet been reaped.
func (p *Process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitStatus returns the child's status. It is only meaningful after
// IsRunning returns false or Wait returns.
func (p *Process) ExitStatus() int {
	select {
	case <-p.done:
		return p.exitStatus
	default:
		return -1
	}
}

// Done returns a channel closed when the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits or ctx is done. The error is
// non-nil only for ctx cancellation or when the child could not be
// waited for; a non-zero exit is reported through the status.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitStatus, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Signal sends sig to the child. Signalling an exited child is not an
// error.
func (p *Process) Signal(sig os.Signal) error {
	err := p.command.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Kill terminates the child with SIGKILL.
func (p *Process) Kill() error {
	return p.Signal(os.Kill)
}

// StdoutPath returns the stdout capture file.
func (p *Process) StdoutPath() string { return p.stdoutPath }

// StderrPath returns the stderr capture file.
func (p *Process) StderrPath() string { return p.stderrPath }

// Cleanup removes the capture files.
func (p *Process) Cleanup() error {
	return errors.Join(removeIfExists(p.stdoutPath), removeIfExists(p.stderrPath))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
