// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore persists sessions, break windows, priorities,
// and daily accounting in SQLite.
//
// The store implements session.Store for the state machine and adds
// the read-side queries the daemon's HTTP surface needs (day listings,
// priority listings) plus retention pruning. Two partial unique
// indexes enforce the singleton invariant at the storage layer: at
// most one active session row and at most one active break row can
// exist, so a machine bug or a second daemon pointed at the same
// database fails loudly instead of corrupting the timeline.
//
// All timestamps are stored as Unix milliseconds in UTC.
package sessionstore
