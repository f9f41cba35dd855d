// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package api defines the wire types shared by the daemon's HTTP
// surface, the control socket, and balancectl.
//
// All timestamps are absolute. Clients compute remaining time from
// EndsAt and their own clock offset against Now; the daemon never
// pushes a countdown.
package api
