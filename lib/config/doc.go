// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Balance binaries.
//
// Configuration is loaded from a single YAML file specified by:
//   - the BALANCE_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override file values; the only expansion performed is ${HOME}
// and similar path variables for portability. This keeps configuration
// deterministic and auditable.
//
// The timer settings (session duration, break durations, daily cap)
// are owned by the external settings application; this package reads
// the values that application has written, it does not manage them.
package config
