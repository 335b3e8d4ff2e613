// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API
// that the actions bridge consumes: password login, incremental sync,
// plain-text message sending, room membership, and token validation.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport. [Client.Login] authenticates with a password and
// returns a [Session]; [Client.SessionFromToken] restores one from a
// previously saved access token without a network call.
//
// [Session] wraps the Client with an access token kept in mmap-backed
// secret.Buffer memory (locked against swap, excluded from core
// dumps). Sessions must be closed to release the protected memory.
//
// Every API failure is a [*MatrixError] carrying the standard Matrix
// error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, ...) and the HTTP status.
// Callers distinguish outcomes by inspecting the typed error with
// errors.As or [IsMatrixError] — the Go rendering of matrix-nio's
// sentinel success/error response objects. Request URLs are built by
// string concatenation rather than url.URL to avoid double-encoding of
// path segments.
package messaging
