// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package exposure is the HTTP transport to the event sink.
//
// [Client] implements both collaborators the analytics engine sends
// through: the clock sync round trip (POST {base}/eventsink/init) and
// batch delivery (POST {base}/eventsink/send). Requests carry the
// session token as a bearer credential and are encoded as JSON or
// deterministic CBOR, optionally zstd or lz4 compressed. Replies are
// always JSON.
//
// Credentials come from an [analytics.AuthProvider]: [StaticAuth] for
// fixed values, [EnvAuth] to read them from the environment.
package exposure
