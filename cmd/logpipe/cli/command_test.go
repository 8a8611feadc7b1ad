// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "logpipe",
		Subcommands: []*Command{
			{Name: "version", Run: func(args []string) error { called = "version"; return nil }},
			{Name: "replay", Run: func(args []string) error { called = "replay"; return nil }},
		},
	}

	if err := root.Execute([]string{"replay"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "replay" {
		t.Errorf("dispatched to %q, want %q", called, "replay")
	}
}

// runCommand mirrors "logpipe run": flags stop at the first positional
// argument so the child's own flags are passed through.
func runCommand(group *string, verbose *bool, received *[]string) *Command {
	return &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.SetInterspersed(false)
			flagSet.StringVarP(group, "group", "g", "", "log group")
			flagSet.BoolVarP(verbose, "verbose", "v", false, "verbose")
			return flagSet
		},
		Run: func(args []string) error {
			*received = args
			return nil
		},
	}
}

func TestCommand_Execute_ChildFlagsPassThrough(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separator", []string{"-g", "builds", "--", "make", "-j8"}, []string{"make", "-j8"}},
		{"no separator", []string{"-g", "builds", "ls", "-la"}, []string{"ls", "-la"}},
		{"child help flag", []string{"--group=builds", "grep", "--help"}, []string{"grep", "--help"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var group string
			var verbose bool
			var received []string
			root := &Command{Name: "logpipe", Output: io.Discard, Subcommands: []*Command{runCommand(&group, &verbose, &received)}}

			if err := root.Execute(append([]string{"run"}, test.args...)); err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if group != "builds" {
				t.Errorf("group = %q, want builds", group)
			}
			if strings.Join(received, " ") != strings.Join(test.want, " ") {
				t.Errorf("args = %q, want %q", received, test.want)
			}
		})
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	var group string
	var verbose bool
	var received []string
	command := runCommand(&group, &verbose, &received)

	err := command.Execute([]string{"--gruop", "x", "true"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --group") {
		t.Errorf("error = %q, want suggestion for '--group'", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownShorthandNoSuggestion(t *testing.T) {
	var group string
	var verbose bool
	var received []string
	command := runCommand(&group, &verbose, &received)

	err := command.Execute([]string{"-z", "true"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown shorthand")
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name:        "logpipe",
		Subcommands: []*Command{{Name: "run"}, {Name: "replay"}, {Name: "version"}},
	}

	err := root.Execute([]string{"replya"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "replay"`) {
		t.Errorf("error = %q, want suggestion for 'replay'", err.Error())
	}

	err = root.Execute([]string{"zzzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for distant input", err)
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			var output bytes.Buffer
			root := &Command{
				Name:        "logpipe",
				Summary:     "Ship a command's output to a log service",
				Output:      &output,
				Subcommands: []*Command{{Name: "run", Summary: "Run a command"}},
			}

			if err := root.Execute([]string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
			if !strings.Contains(output.String(), "Run a command") {
				t.Errorf("help output = %q", output.String())
			}
		})
	}
}

func TestCommand_Execute_SubcommandInheritsOutput(t *testing.T) {
	var output bytes.Buffer
	root := &Command{
		Name:   "logpipe",
		Output: &output,
		Subcommands: []*Command{{
			Name:    "replay",
			Summary: "Push spooled events",
			Run:     func(args []string) error { return nil },
		}},
	}

	if err := root.Execute([]string{"replay", "--help"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(output.String(), "logpipe replay [flags]") {
		t.Errorf("help output = %q", output.String())
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name:        "logpipe",
		Output:      io.Discard,
		Subcommands: []*Command{{Name: "run"}},
	}

	err := root.Execute([]string{})
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Fatalf("Execute() = %v, want 'subcommand required'", err)
	}
}

func TestCommand_Execute_RunErrorPropagates(t *testing.T) {
	want := &ExitError{Code: 3}
	command := &Command{Name: "run", Run: func(args []string) error { return want }}

	err := command.Execute(nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("Execute() = %v, want exit code 3", err)
	}
	if exitErr.Error() != "exit code 3" {
		t.Errorf("Error() = %q", exitErr.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	var group string
	var verbose bool
	var received []string
	command := runCommand(&group, &verbose, &received)
	command.Description = "Run a command and ship its output."
	command.Usage = "logpipe run [flags] [--] command [args...]"
	command.Examples = []Example{{
		Description: "Ship a build log",
		Command:     "logpipe run -g builds -- make all",
	}}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Run a command and ship its output.",
		"Usage:",
		"logpipe run [flags] [--] command [args...]",
		"Flags:",
		"-g, --group",
		"-v, --verbose",
		"Examples:",
		"# Ship a build log",
		"logpipe run -g builds -- make all",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "logpipe"}
	run := &Command{Name: "run", parent: root}

	if got := root.fullName(); got != "logpipe" {
		t.Errorf("root.fullName() = %q", got)
	}
	if got := run.fullName(); got != "logpipe run" {
		t.Errorf("run.fullName() = %q", got)
	}
}
