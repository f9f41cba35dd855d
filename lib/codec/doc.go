// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Balance's standard CBOR encoding.
//
// The control socket speaks CBOR rather than JSON: it is self-
// delimiting (no framing protocol on the stream), compact, and
// round-trips binary data without base64. Encoding is Core
// Deterministic Encoding (RFC 8949 section 4.2) so the same logical
// value always produces identical bytes. Timestamps encode as RFC 3339
// text so any client can parse them without CBOR tag support.
//
// Wire structs reuse their json struct tags: the socket protocol and
// the HTTP API share one set of field names.
package codec
