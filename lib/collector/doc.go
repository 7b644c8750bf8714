// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector is a reference event sink. It serves the two
// endpoints the exposure client calls, keeps received batches in a
// byte-bounded in-memory [Store], and streams a summary of every
// batch to websocket watchers through a [Feed].
//
// Routes:
//
//	POST /eventsink/init     clock sync: {receivedTime, repliedTime, settings}
//	POST /eventsink/send     batch delivery, JSON or CBOR, optional zstd/lz4
//	GET  /eventsink/batches  stored batches, oldest first
//	GET  /eventsink/watch    websocket feed of batch summaries
//
// It exists for integration tests and local development; it keeps
// nothing across restarts.
package collector
