// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the daemon's two transport servers and the
// matching socket client.
//
// HTTPServer serves the JSON API the browser extension and the reverse
// proxy talk to: status polls, session control, and the per-request
// access gate. SocketServer serves the same operations as a CBOR
// request-response protocol on a Unix socket for local tooling
// (balancectl). Each socket connection carries exactly one request and
// one response.
//
// Both servers follow the same lifecycle: Serve(ctx) blocks until the
// context is cancelled, then drains in-flight work before returning.
// Ready() reports when the listener is bound, which tests use to avoid
// polling.
package service
