// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package analytics buffers playback telemetry per session and ships
// it to the event sink in batches.
//
// The pieces, leaves first:
//
//   - [Registry] maps session IDs to their pending events, playback
//     position, clock offset, retry count, and lifecycle [State]. It
//     owns the single mutex every read-modify-write goes through.
//   - [ClockSynchronizer] estimates the offset between the local clock
//     and the sink's clock from one init round trip and stores it on
//     the session.
//   - [Dispatcher] turns a session's buffer into a [Batch], sends it
//     with the lock released, and on acknowledgement removes exactly
//     the events that were sent.
//   - [Scheduler] ticks once per cycle and decides whether the round
//     is worth dispatching: quickly when any session has pending
//     events, rarely (heartbeats) when none do.
//   - [Tracker] is the caller-facing surface: one method per playback
//     lifecycle event, custom attributes, DispatchNow, Shutdown.
//
// Data flow:
//
//	Tracker.Paused → Registry.Record → Scheduler tick → Dispatcher.Flush → BatchSink
//
// Nothing on the event-producing path returns an error or blocks on
// the network. Transport problems are logged where they happen and
// the events stay buffered for the next cycle, subject to the
// configured [RetryPolicy].
package analytics
