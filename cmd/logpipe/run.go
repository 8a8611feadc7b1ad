// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logpipe/cmd/logpipe/cli"
	"github.com/bureau-foundation/logpipe/lib/config"
	"github.com/bureau-foundation/logpipe/lib/driver"
	"github.com/bureau-foundation/logpipe/lib/logservice"
	"github.com/bureau-foundation/logpipe/lib/spool"
	"github.com/bureau-foundation/logpipe/lib/supervisor"
)

// runFlags are the flags of "logpipe run". Boolean flags can only
// turn a setting on; string flags override the config file when set.
type runFlags struct {
	configPath string

	group  string
	stream string

	verbose       bool
	streamThrough bool
	unbuffer      bool
	returnCode    bool
	silentErrors  bool

	sigusr1        bool
	sigterm        bool
	forwardSignals []string

	spoolDir    string
	endpoint    string
	createGroup bool
	dryRun      bool
}

func (f *runFlags) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	// Everything after the command name belongs to the command.
	flagSet.SetInterspersed(false)

	flagSet.StringVarP(&f.group, "group", "g", "", "log group name (required)")
	flagSet.StringVarP(&f.stream, "stream", "s", "", "log stream name (default: random UUID)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "print the group and stream, enable debug logging")
	flagSet.BoolVarP(&f.streamThrough, "stream-through", "t", false, "also echo captured output to stdout and stderr")
	flagSet.BoolVar(&f.unbuffer, "unbuffer", false, "run the command under unbuffer(1)")
	flagSet.BoolVar(&f.returnCode, "return-code", false, `push "return code N" as the final event`)
	flagSet.BoolVar(&f.silentErrors, "silent-exceptions", false, "do not push logpipe's own error text as an event")
	flagSet.BoolVar(&f.sigusr1, "sigusr1", false, "forward SIGUSR1 to the command")
	flagSet.BoolVar(&f.sigterm, "sigterm", false, "forward SIGTERM to the command")
	flagSet.StringSliceVar(&f.forwardSignals, "forward-signal", nil, "additional signals to forward (name or number)")
	flagSet.StringVar(&f.configPath, "config", "", "YAML or JSONC config file (default: $"+config.ConfigEnv+")")
	flagSet.StringVar(&f.spoolDir, "spool-dir", "", "directory for events that could not be delivered")
	flagSet.StringVar(&f.endpoint, "endpoint", "", "log service endpoint override")
	flagSet.BoolVar(&f.createGroup, "create-group", false, "create the log group if it does not exist")
	flagSet.BoolVar(&f.dryRun, "dry-run", false, "deliver to an in-memory service instead of CloudWatch Logs")
	return flagSet
}

// apply merges the flags over settings loaded from the config file.
func (f *runFlags) apply(settings *config.Config) {
	if f.group != "" {
		settings.Group = f.group
	}
	if f.stream != "" {
		settings.Stream = f.stream
	}
	if f.endpoint != "" {
		settings.Service.Endpoint = f.endpoint
	}
	if f.spoolDir != "" {
		settings.Spool.Dir = f.spoolDir
	}
	settings.Service.CreateGroup = settings.Service.CreateGroup || f.createGroup
	settings.Run.StreamThrough = settings.Run.StreamThrough || f.streamThrough
	settings.Run.Unbuffer = settings.Run.Unbuffer || f.unbuffer
	settings.Run.ReturnCode = settings.Run.ReturnCode || f.returnCode
	settings.Run.SilentErrors = settings.Run.SilentErrors || f.silentErrors

	settings.Run.ForwardSignals = append(settings.Run.ForwardSignals, f.forwardSignals...)
	if f.sigusr1 {
		settings.Run.ForwardSignals = append(settings.Run.ForwardSignals, "SIGUSR1")
	}
	if f.sigterm {
		settings.Run.ForwardSignals = append(settings.Run.ForwardSignals, "SIGTERM")
	}
	if f.verbose {
		settings.LogLevel = "debug"
	}
}

func runCommand(env environment) *cli.Command {
	var flags runFlags

	return &cli.Command{
		Name:    "run",
		Summary: "Run a command and ship its output",
		Description: `Run a command and ship each line of its stdout and stderr as an event
to a CloudWatch Logs stream.

The stream is created first; if it already exists, logpipe appends to
it. Lines are batched and pushed when the batch reaches 80% of the
service's size limit, 99% of its event count limit, or 30 seconds of
age. When the command exits, the remaining lines are pushed and
logpipe exits with the command's exit status.

If delivery fails, logpipe stops the command, records the error as a
final event, and tries one last push. Events still undelivered are
written to --spool-dir when set, for "logpipe replay".

The region is taken from $` + config.RegionEnv + ` (default ` + config.DefaultRegion + `).`,
		Usage: "logpipe run [flags] [--] command [args...]",
		Examples: []cli.Example{
			{
				Description: "Ship a build log, echoing it to the terminal",
				Command:     "logpipe run -g builds -s nightly-42 -t -- make all",
			},
			{
				Description: "Forward SIGUSR1 and record the exit status",
				Command:     "logpipe run -g workers --sigusr1 --return-code ./worker --queue jobs",
			},
		},
		Flags: flags.flagSet,
		Run: func(args []string) error {
			return runLogpipe(env, &flags, args)
		},
	}
}

func runLogpipe(env environment, flags *runFlags, command []string) error {
	if len(command) == 0 {
		return errors.New("no command given\n\nRun 'logpipe run --help' for usage.")
	}

	settings, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(settings)
	if settings.Group == "" {
		return errors.New("--group is required (or group in the config file)")
	}
	if settings.Stream == "" {
		settings.Stream = uuid.NewString()
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := settings.Level()
	if err != nil {
		return err
	}
	logger := env.newLogger(level).With("command", "run")

	signals, err := supervisor.ParseSignals(settings.Run.ForwardSignals)
	if err != nil {
		return err
	}
	compression, err := spool.ParseCompression(settings.Spool.Compression)
	if err != nil {
		return err
	}

	if flags.verbose {
		fmt.Fprintf(env.stderr, "group: %s\nstream: %s\n", settings.Group, settings.Stream)
	}

	service, err := env.newService(settings, flags.dryRun, logger)
	if err != nil {
		return err
	}

	ctx, stop := shutdownContext(signals)
	defer stop()

	status, err := driver.Run(ctx, driver.Config{
		Service:          service,
		Group:            settings.Group,
		Stream:           settings.Stream,
		Command:          command,
		CaptureDir:       settings.Run.CaptureDir,
		Unbuffer:         settings.Run.Unbuffer,
		StreamThrough:    settings.Run.StreamThrough,
		ReturnCode:       settings.Run.ReturnCode,
		SilentErrors:     settings.Run.SilentErrors,
		Signals:          signals,
		PollInterval:     settings.Run.PollInterval,
		PushTimeout:      settings.Service.PushTimeout,
		Retries:          settings.Service.Retries,
		SpoolDir:         settings.Spool.Dir,
		SpoolCompression: compression,
		Logger:           logger,
		Stdout:           env.stdout,
		Stderr:           env.stderr,
	})

	if memory, ok := service.(*logservice.Memory); ok && flags.dryRun {
		fmt.Fprintf(env.stderr, "dry run: %d events for %s/%s\n",
			len(memory.Events(settings.Group, settings.Stream)), settings.Group, settings.Stream)
	}

	if err != nil {
		return err
	}
	if status != 0 {
		return &cli.ExitError{Code: status}
	}
	return nil
}

// shutdownContext is cancelled by SIGINT or SIGTERM, unless the signal
// is being forwarded to the child instead.
func shutdownContext(forwarded *supervisor.ForwardTable) (context.Context, context.CancelFunc) {
	var shutdown []os.Signal
	for _, sig := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
		if !forwarded.Contains(sig) {
			shutdown = append(shutdown, sig)
		}
	}
	if len(shutdown) == 0 {
		return context.WithCancel(context.Background())
	}
	return signal.NotifyContext(context.Background(), shutdown...)
}

// loggerFor is used by commands that never change level after startup.
func loggerFor(env environment, settings *config.Config, verbose bool) (*slog.Logger, error) {
	if verbose {
		return env.newLogger(slog.LevelDebug), nil
	}
	level, err := settings.Level()
	if err != nil {
		return nil, err
	}
	return env.newLogger(level), nil
}
