// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logpipe/cmd/logpipe/cli"
	"github.com/bureau-foundation/logpipe/lib/codec"
	"github.com/bureau-foundation/logpipe/lib/config"
	"github.com/bureau-foundation/logpipe/lib/logbatch"
	"github.com/bureau-foundation/logpipe/lib/logservice"
	"github.com/bureau-foundation/logpipe/lib/spool"
)

type replayFlags struct {
	configPath string
	group      string
	stream     string
	inspect    bool
	verbose    bool
	endpoint   string
	dryRun     bool
}

func (f *replayFlags) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flagSet.StringVarP(&f.group, "group", "g", "", "deliver to this log group instead of the recorded one")
	flagSet.StringVarP(&f.stream, "stream", "s", "", "deliver to this log stream instead of the recorded one")
	flagSet.BoolVar(&f.inspect, "inspect", false, "print each file's decoded payload instead of delivering it")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.StringVar(&f.configPath, "config", "", "YAML or JSONC config file (default: $"+config.ConfigEnv+")")
	flagSet.StringVar(&f.endpoint, "endpoint", "", "log service endpoint override")
	flagSet.BoolVar(&f.dryRun, "dry-run", false, "deliver to an in-memory service instead of CloudWatch Logs")
	return flagSet
}

func replayCommand(env environment) *cli.Command {
	var flags replayFlags

	return &cli.Command{
		Name:    "replay",
		Summary: "Deliver events from spool files",
		Description: `Deliver events that "logpipe run" wrote to its spool directory.

Each argument is a spool file or a directory of them. Events are pushed
in order with their original timestamps, to the group and stream
recorded in the file unless --group or --stream is given. A file is
deleted only after all of its events were delivered.

With --inspect, each file is verified and its payload printed in CBOR
diagnostic notation; nothing is delivered or deleted.`,
		Usage: "logpipe replay [flags] FILE|DIR...",
		Examples: []cli.Example{
			{
				Description: "Push everything left in a spool directory",
				Command:     "logpipe replay /var/spool/logpipe",
			},
			{
				Description: "Look inside one file",
				Command:     "logpipe replay --inspect /var/spool/logpipe/1767225600000-0b7e.lpspool",
			},
		},
		Flags: flags.flagSet,
		Run: func(args []string) error {
			return replay(env, &flags, args)
		},
	}
}

func replay(env environment, flags *replayFlags, args []string) error {
	if len(args) == 0 {
		return errors.New("no spool files given\n\nRun 'logpipe replay --help' for usage.")
	}

	paths, err := spoolPaths(args)
	if err != nil {
		return err
	}

	if flags.inspect {
		for _, path := range paths {
			if err := inspectSpool(env, path); err != nil {
				return err
			}
		}
		return nil
	}

	settings, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.endpoint != "" {
		settings.Service.Endpoint = flags.endpoint
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := loggerFor(env, settings, flags.verbose)
	if err != nil {
		return err
	}
	logger = logger.With("command", "replay")

	service, err := env.newService(settings, flags.dryRun, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var failures []error
	for _, path := range paths {
		delivered, err := replayFile(ctx, service, path, flags, settings, logger)
		if err != nil {
			logger.Error("replay failed, keeping spool file", "path", path, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := os.Remove(path); err != nil {
			failures = append(failures, fmt.Errorf("removing delivered spool file: %w", err))
			continue
		}
		fmt.Fprintf(env.stdout, "%s: %d events delivered\n", path, delivered)
	}
	return errors.Join(failures...)
}

// spoolPaths expands directory arguments to the spool files they hold.
func spoolPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := spool.List(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

func inspectSpool(env environment, path string) error {
	payload, err := spool.Payload(path)
	if err != nil {
		return err
	}
	diagnostic, err := codec.Diagnose(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(env.stdout, "%s:\n%s\n", path, diagnostic)
	return nil
}

// replayFile delivers one spool file's events and returns how many
// were delivered.
func replayFile(ctx context.Context, service logservice.Service, path string, flags *replayFlags, settings *config.Config, logger *slog.Logger) (int, error) {
	record, err := spool.Read(path)
	if err != nil {
		return 0, err
	}
	group, stream := record.Group, record.Stream
	if flags.group != "" {
		group = flags.group
	}
	if flags.stream != "" {
		stream = flags.stream
	}

	client, err := logservice.Open(ctx, service, group, stream, logservice.Options{
		Logger:  logger,
		Retries: settings.Service.Retries,
	})
	if err != nil {
		return 0, err
	}

	// Recorded timestamps are old by definition, so only the size and
	// count thresholds apply.
	limits := logbatch.DefaultLimits()
	limits.MaxAge = time.Duration(math.MaxInt64)
	engine := logbatch.New(client, logbatch.Options{Logger: logger, Limits: limits})

	for _, event := range record.Events {
		if err := engine.LogAt(ctx, event.Message, event.Timestamp); err != nil {
			return 0, err
		}
	}
	if _, err := engine.Close(ctx); err != nil {
		return 0, err
	}

	logger.Info("replayed spool file",
		"path", path,
		"group", group,
		"stream", stream,
		"events", len(record.Events),
	)
	return len(record.Events), nil
}
