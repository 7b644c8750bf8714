// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Eventsink-collector runs the reference event sink: it answers clock
// sync requests, stores received batches in a bounded in-memory
// buffer, lists them over HTTP, and streams a summary of each one to
// websocket watchers.
package main
