// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that timer logic is
// testable without sleeping. Production code injects Real(); tests
// inject Fake(initial) and advance it explicitly.
//
// The session state machine never schedules callbacks — expiry is
// resolved lazily against Clock.Now on each operation — so most of the
// codebase only ever calls Now. NewTicker exists for the daemon's
// periodic maintenance loops (history retention).
package clock
