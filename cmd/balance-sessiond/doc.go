// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// balance-sessiond is the Balance session daemon. It owns the
// session/break state machine, persists every transition to SQLite,
// and serves two surfaces: an HTTP API for the browser extension and
// the reverse proxy's access gate, and a CBOR control socket for
// balancectl.
//
// There is no background scheduler. Timers expire lazily: every
// request first folds any elapsed session or break into the persisted
// state, so a laptop waking from a six-hour sleep reports the right
// mode on its first poll.
package main
