// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the actions bridge service: three
// chat-assistant operations (send message, read recent messages, list
// room members) against a single Matrix bot account, served over HTTP.
//
// [Service] owns the one authenticated session. Its session gate
// serializes check-and-login so that at most one login attempt is ever
// in flight, no matter how many requests arrive concurrently; the bot
// password is resolved lazily from the environment or the 1Password
// CLI and cached for the process lifetime once resolution succeeds.
//
// Operations classify failures into the categories of [Error] —
// validation, auth, not found, upstream, config — which the HTTP layer
// maps to status codes. A failed delegated call is surfaced
// immediately; nothing in this package retries.
package bridge
