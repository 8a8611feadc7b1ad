// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/logpipe/lib/clock"
	"github.com/bureau-foundation/logpipe/lib/linereader"
	"github.com/bureau-foundation/logpipe/lib/logbatch"
	"github.com/bureau-foundation/logpipe/lib/logservice"
	"github.com/bureau-foundation/logpipe/lib/spool"
	"github.com/bureau-foundation/logpipe/lib/supervisor"
)

// Defaults for zero Config fields.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPushTimeout  = 30 * time.Second
)

// FailureExitCode is returned when logpipe itself fails, as opposed to
// the child exiting non-zero.
const FailureExitCode = 1

// Config describes one run.
type Config struct {
	// Service is the destination. Required.
	Service logservice.Service

	Group  string
	Stream string

	// Command is the child's argv. Required.
	Command []string

	// Env and Dir are passed to the child; see supervisor.Spec.
	Env []string
	Dir string

	CaptureDir string
	Unbuffer   bool

	// StreamThrough echoes each captured line to Stdout or Stderr.
	StreamThrough bool

	// ReturnCode records "return code N" as the final event.
	ReturnCode bool

	// SilentErrors suppresses recording logpipe's own error text as an
	// event when delivery fails.
	SilentErrors bool

	// Signals are forwarded to the child. Nil forwards nothing.
	Signals *supervisor.ForwardTable

	PollInterval time.Duration

	// PushTimeout bounds each push, retries included.
	PushTimeout time.Duration

	// Retries is passed to logservice.Options.
	Retries int

	// Limits overrides the batch thresholds.
	Limits logbatch.Limits

	// SpoolDir receives events that could not be delivered. Empty
	// disables spooling.
	SpoolDir         string
	SpoolCompression spool.Compression

	Clock  clock.Clock
	Logger *slog.Logger

	// Stdout and Stderr receive echoed lines. Default to os.Stdout and
	// os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Signals == nil {
		c.Signals = supervisor.NewForwardTable()
	}
}

// timeoutPusher bounds every push with its own deadline.
type timeoutPusher struct {
	client  *logservice.Client
	timeout time.Duration
}

func (p timeoutPusher) Push(ctx context.Context, events []logservice.Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.Push(ctx, events)
}

// run is the state of one Run call.
type run struct {
	config  Config
	logger  *slog.Logger
	client  *logservice.Client
	engine  *logbatch.Engine
	process *supervisor.Process
	stdout  *linereader.Reader
	stderr  *linereader.Reader

	// delivery is the context for pushes. It is not cancelled with the
	// caller's context so the final flush still runs after an
	// interrupt.
	delivery context.Context

	// unsent holds captured messages the engine refused because the
	// flush ahead of them failed, in capture order.
	unsent []string
}

// Run executes the child described by config and ships its output. It
// returns the child's exit status, or FailureExitCode with a non-nil
// error when logpipe could not do its job: the stream could not be
// opened, the child could not be started, or delivery failed.
//
// Cancelling ctx kills the child; its remaining output is still
// drained and delivered, and Run returns the child's status.
func Run(ctx context.Context, config Config) (int, error) {
	if config.Service == nil {
		return FailureExitCode, errors.New("driver: no log service configured")
	}
	if len(config.Command) == 0 {
		return FailureExitCode, errors.New("driver: no command specified")
	}
	config.applyDefaults()

	r := &run{
		config:   config,
		logger:   config.Logger.With("group", config.Group, "stream", config.Stream),
		delivery: context.WithoutCancel(ctx),
	}

	openCtx, cancel := context.WithTimeout(r.delivery, config.PushTimeout)
	client, err := logservice.Open(openCtx, config.Service, config.Group, config.Stream, logservice.Options{
		Clock:   config.Clock,
		Logger:  config.Logger,
		Retries: config.Retries,
	})
	cancel()
	if err != nil {
		return FailureExitCode, err
	}
	r.client = client
	r.engine = logbatch.New(timeoutPusher{client: client, timeout: config.PushTimeout}, logbatch.Options{
		Clock:  config.Clock,
		Logger: config.Logger,
		Limits: config.Limits,
	})

	if err := r.start(ctx); err != nil {
		return FailureExitCode, err
	}
	defer r.cleanup()

	if err := config.Signals.Install(r.process); err != nil {
		return r.fail(err)
	}
	defer config.Signals.Stop()

	if err := r.loop(ctx); err != nil {
		return r.fail(err)
	}
	return r.finish()
}

func (r *run) start(ctx context.Context) error {
	process, err := supervisor.Start(context.WithoutCancel(ctx), supervisor.Spec{
		Command:    r.config.Command,
		Env:        r.config.Env,
		Dir:        r.config.Dir,
		CaptureDir: r.config.CaptureDir,
		Unbuffer:   r.config.Unbuffer,
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	r.process = process

	r.stdout, err = linereader.Open(process.StdoutPath())
	if err == nil {
		r.stderr, err = linereader.Open(process.StderrPath())
	}
	if err != nil {
		process.Kill()
		process.Wait(context.Background())
		r.cleanup()
		return fmt.Errorf("driver: opening capture files: %w", err)
	}

	r.logger.Info("running command",
		"command", r.config.Command,
		"pid", process.Pid(),
		"forwarded_signals", r.config.Signals.Names(),
	)
	return nil
}

func (r *run) cleanup() {
	if r.stdout != nil {
		r.stdout.Close()
	}
	if r.stderr != nil {
		r.stderr.Close()
	}
	if err := r.process.Cleanup(); err != nil {
		r.logger.Warn("removing capture files", "error", err)
	}
}

// loop pumps output until the child exits. IsRunning is sampled before
// each pump so output written just before exit is read by the final
// drain at the latest.
func (r *run) loop(ctx context.Context) error {
	ticker := r.config.Clock.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		running := r.process.IsRunning()
		if err := r.pump(false); err != nil {
			return err
		}
		if !running {
			return nil
		}

		select {
		case <-ticker.C:
		case <-r.process.Done():
		case <-ctx.Done():
			r.logger.Warn("interrupted, killing child", "error", ctx.Err())
			if err := r.process.Kill(); err != nil {
				r.logger.Warn("killing child", "error", err)
			}
			<-r.process.Done()
			return nil
		}
	}
}

// pump feeds available stdout lines, then stderr lines, to the engine.
// With drain set, trailing fragments are included.
func (r *run) pump(drain bool) error {
	if err := r.pumpStream(r.stdout, r.config.Stdout, drain); err != nil {
		return err
	}
	return r.pumpStream(r.stderr, r.config.Stderr, drain)
}

func (r *run) pumpStream(reader *linereader.Reader, echo io.Writer, drain bool) error {
	var lines []string
	var err error
	if drain {
		lines, err = reader.Drain()
	} else {
		lines, err = reader.ReadLines()
	}
	if err != nil {
		return err
	}

	r.echo(echo, lines)
	for i, line := range lines {
		if err := r.engine.Log(r.delivery, line); err != nil {
			r.unsent = append(r.unsent, lines[i:]...)
			return err
		}
	}
	return nil
}

func (r *run) echo(w io.Writer, lines []string) {
	if !r.config.StreamThrough {
		return
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// finish runs after the child has exited: final drain, optional return
// code event, and the closing flush.
func (r *run) finish() (int, error) {
	if err := r.pump(true); err != nil {
		return r.fail(err)
	}

	status := r.process.ExitStatus()
	if r.config.ReturnCode {
		message := fmt.Sprintf("return code %d", status)
		if r.config.StreamThrough {
			fmt.Fprintln(r.config.Stderr, message)
		}
		if err := r.engine.Log(r.delivery, message); err != nil {
			r.unsent = append(r.unsent, message)
			return r.fail(err)
		}
	}

	if _, err := r.engine.Close(r.delivery); err != nil {
		r.spool(r.engine.Pending())
		return FailureExitCode, fmt.Errorf("driver: final flush: %w", err)
	}

	stats := r.client.Stats()
	r.logger.Info("command finished",
		"status", status,
		"events", stats.Events,
		"pushes", stats.Pushes,
	)
	return status, nil
}

// fail handles an error while the child may still be running: stop
// the child, collect the output not yet in the batch, record the error,
// flush once, and spool what is left.
func (r *run) fail(cause error) (int, error) {
	r.logger.Error("shipping output failed", "error", cause)

	if r.process.IsRunning() {
		r.process.Kill()
		<-r.process.Done()
	}

	remaining := r.unsent
	remaining = append(remaining, r.drainRemaining(r.stdout, r.config.Stdout)...)
	remaining = append(remaining, r.drainRemaining(r.stderr, r.config.Stderr)...)
	if !r.config.SilentErrors {
		remaining = append(remaining, cause.Error())
	}

	// What does not fit in the batch goes straight to the spool, after
	// the batch and in the same order.
	var overflow []logservice.Event
	for i, message := range remaining {
		if err := r.engine.Append(message); err != nil {
			r.logger.Debug("batch full, spooling the rest", "events", len(remaining)-i, "error", err)
			overflow = r.events(remaining[i:])
			break
		}
	}

	if _, err := r.engine.Flush(r.delivery); err != nil {
		r.logger.Warn("best-effort flush failed", "error", err)
		r.spool(append(r.engine.Pending(), overflow...))
	} else {
		r.spool(overflow)
	}
	return FailureExitCode, cause
}

// drainRemaining reads what the child wrote that the loop did not. A
// read error is logged: the failure being handled takes precedence.
func (r *run) drainRemaining(reader *linereader.Reader, echo io.Writer) []string {
	lines, err := reader.Drain()
	if err != nil {
		r.logger.Warn("reading remaining output", "error", err)
	}
	r.echo(echo, lines)
	return lines
}

// events stamps messages with the current time, dropping empty ones
// as the engine does.
func (r *run) events(messages []string) []logservice.Event {
	now := clock.UnixMilli(r.config.Clock)
	var events []logservice.Event
	for _, message := range messages {
		if message != "" {
			events = append(events, logservice.Event{Timestamp: now, Message: message})
		}
	}
	return events
}

func (r *run) spool(pending []logservice.Event) {
	if len(pending) == 0 {
		return
	}
	if r.config.SpoolDir == "" {
		r.logger.Warn("dropping undelivered events, no spool directory configured", "events", len(pending))
		return
	}

	handle := r.client.Handle()
	path, err := spool.Write(r.config.SpoolDir, spool.Record{
		Group:     handle.Group,
		Stream:    handle.Stream,
		CreatedAt: clock.UnixMilli(r.config.Clock),
		Events:    pending,
	}, r.config.SpoolCompression)
	if err != nil {
		r.logger.Error("spooling undelivered events", "events", len(pending), "error", err)
		return
	}
	r.logger.Warn("spooled undelivered events", "events", len(pending), "path", path)
}
