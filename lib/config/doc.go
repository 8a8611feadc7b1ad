// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads logpipe's optional configuration file.
//
// The file is named by the --config flag or, failing that, the
// LOGPIPE_CONFIG environment variable. There is no search path: with
// neither set, [Default] values apply. Files ending in .json or .jsonc
// are JSON with comments and trailing commas allowed; anything else
// is YAML.
//
// Precedence is flags, then the file, then the environment, then
// built-in defaults. The only environment variable consulted for a
// value is CLOUDWATCH_LOGS_REGION, which supplies the region when the
// file does not. After loading, ${VAR} and ${VAR:-default} patterns in
// path fields are expanded.
//
// This package depends on no other logpipe packages.
package config
