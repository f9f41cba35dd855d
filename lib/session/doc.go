// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the focus-session/break state machine at
// the heart of Balance.
//
// The whole process has exactly one live timer at a time: an active
// session, an active break window, or nothing. That singleton is the
// only shared mutable state, and every transition — including the two
// implicit expiry transitions — runs under one mutex in Machine.
//
// There is no background scheduler. Timers are resolved lazily: each
// public operation first applies Resolve(state, now) and then acts on
// the post-expiry state. A freshly restarted process computes the
// correct mode on its very first request, and tests drive the machine
// with a fake clock and no sleeps.
//
// The access gate (Machine.CheckAccess) is the read path the reverse
// proxy consults before every request to the other Balance apps. It
// takes a read lock in the common case and upgrades only when an
// expiry is actually due.
package session
