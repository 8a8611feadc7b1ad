// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables read by this package.
const (
	ConfigEnv = "LOGPIPE_CONFIG"
	RegionEnv = "CLOUDWATCH_LOGS_REGION"
)

// DefaultRegion applies when neither the file nor RegionEnv names one.
const DefaultRegion = "us-east-1"

// Config is logpipe's configuration. Every field has a command-line
// flag of the same meaning; the file supplies values for flags that
// were not given.
type Config struct {
	// Group and Stream name the destination. Stream defaults to a
	// random UUID chosen at startup.
	Group  string `yaml:"group"`
	Stream string `yaml:"stream"`

	// Service configures the remote log service.
	Service ServiceConfig `yaml:"service"`

	// Run configures how the child is supervised.
	Run RunConfig `yaml:"run"`

	// Spool configures where undelivered events are written.
	Spool SpoolConfig `yaml:"spool"`

	// LogLevel is logpipe's own diagnostic level: debug, info, warn
	// or error.
	LogLevel string `yaml:"log_level"`
}

// ServiceConfig configures the remote log service.
type ServiceConfig struct {
	// Region is the AWS region. Default: $CLOUDWATCH_LOGS_REGION, then
	// us-east-1.
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint, for compatible services
	// and local emulators.
	Endpoint string `yaml:"endpoint"`

	// CreateGroup creates the log group when it does not exist.
	CreateGroup bool `yaml:"create_group"`

	// PushTimeout bounds one push, including retries. Default: 30s.
	PushTimeout time.Duration `yaml:"push_timeout"`

	// Retries is the number of extra attempts after a transport
	// failure. Zero uses the client default; -1 disables retry.
	Retries int `yaml:"retries"`
}

// RunConfig configures child supervision.
type RunConfig struct {
	// PollInterval is how often the capture files are read.
	// Default: 100ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ForwardSignals lists signals relayed to the child, by name
	// ("SIGUSR1", "usr1") or number.
	ForwardSignals []string `yaml:"forward_signals"`

	StreamThrough bool `yaml:"stream_through"`
	Unbuffer      bool `yaml:"unbuffer"`
	ReturnCode    bool `yaml:"return_code"`
	SilentErrors  bool `yaml:"silent_errors"`

	// CaptureDir holds the child's capture files. Default: the OS
	// temporary directory.
	CaptureDir string `yaml:"capture_dir"`
}

// SpoolConfig configures the undelivered-event spool.
type SpoolConfig struct {
	// Dir enables spooling when non-empty.
	Dir string `yaml:"dir"`

	// Compression is "zstd" (default), "lz4" or "none".
	Compression string `yaml:"compression"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	region := os.Getenv(RegionEnv)
	if region == "" {
		region = DefaultRegion
	}
	return &Config{
		Service: ServiceConfig{
			Region:      region,
			PushTimeout: 30 * time.Second,
		},
		Run: RunConfig{
			PollInterval: 100 * time.Millisecond,
		},
		Spool: SpoolConfig{
			Compression: "zstd",
		},
		LogLevel: "info",
	}
}

// Load loads the file named by path, or by LOGPIPE_CONFIG when path is
// empty. With neither, it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file over Default().
// Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are stripped, so one decoder handles both.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Spool.Dir = expandVars(c.Spool.Dir, vars)
	c.Run.CaptureDir = expandVars(c.Run.CaptureDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, looking in
// vars first and then the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors. The destination group
// is not checked here: replay can take it from a spool file.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Region == "" {
		errs = append(errs, errors.New("service.region is required"))
	}
	if c.Service.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.push_timeout must be positive, got %s", c.Service.PushTimeout))
	}
	if c.Service.Retries < -1 {
		errs = append(errs, fmt.Errorf("service.retries must be -1 or more, got %d", c.Service.Retries))
	}
	if c.Run.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("run.poll_interval must be positive, got %s", c.Run.PollInterval))
	}

	compressions := []string{"zstd", "lz4", "none"}
	if !slices.Contains(compressions, c.Spool.Compression) {
		errs = append(errs, fmt.Errorf("spool.compression must be one of: %v", compressions))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
