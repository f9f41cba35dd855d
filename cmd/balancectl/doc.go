// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// balancectl is the command-line client for the Balance session
// daemon. It talks CBOR over the daemon's control socket: start and
// abandon sessions, submit reviews, inspect the day's accounting, and
// watch the running timer in a live terminal view.
package main
