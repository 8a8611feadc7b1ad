// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/logpipe/cmd/logpipe/cli"
	"github.com/bureau-foundation/logpipe/lib/config"
	"github.com/bureau-foundation/logpipe/lib/logservice"
	"github.com/bureau-foundation/logpipe/lib/version"
)

// environment holds what the commands take from the process. Tests
// substitute buffers and an in-memory service.
type environment struct {
	stdout io.Writer
	stderr io.Writer

	newLogger  func(level slog.Leveler) *slog.Logger
	newService func(settings *config.Config, dryRun bool, logger *slog.Logger) (logservice.Service, error)
}

func defaultEnvironment() environment {
	return environment{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		newLogger:  cli.NewLogger,
		newService: newService,
	}
}

// newService returns the destination for settings: CloudWatch Logs, or
// an in-memory service for --dry-run.
func newService(settings *config.Config, dryRun bool, logger *slog.Logger) (logservice.Service, error) {
	if dryRun {
		return logservice.NewMemory(), nil
	}
	return logservice.NewCloudWatch(logservice.CloudWatchConfig{
		Region:      settings.Service.Region,
		Endpoint:    settings.Service.Endpoint,
		CreateGroup: settings.Service.CreateGroup,
		HTTPTimeout: settings.Service.PushTimeout,
		Logger:      logger,
	})
}

func root(env environment) *cli.Command {
	return &cli.Command{
		Name: "logpipe",
		Description: `logpipe: ship a command's output to CloudWatch Logs.

Runs a command, captures its stdout and stderr line by line, and
delivers the lines as events to a log stream, batched under the
service's limits. logpipe exits with the command's exit status.`,
		Output: env.stderr,
		Subcommands: []*cli.Command{
			runCommand(env),
			replayCommand(env),
			versionCommand(env),
		},
	}
}

func versionCommand(env environment) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			fmt.Fprintln(env.stdout, version.Full())
			return nil
		},
	}
}
