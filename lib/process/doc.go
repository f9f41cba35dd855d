// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. Raw stderr
// output belongs here and in lib/version only; everything after logger
// setup goes through slog.
package process
