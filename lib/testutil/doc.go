// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by Balance tests:
// channel operations with timeout safety valves so that a broken
// goroutine fails the test instead of hanging the run.
package testutil
