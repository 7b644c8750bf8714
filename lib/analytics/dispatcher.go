// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

// FlushResult is what a single Flush did.
type FlushResult uint8

const (
	// FlushSkipped: the session is absent, Removed, already being
	// flushed, or held back by a retry delay.
	FlushSkipped FlushResult = iota

	// FlushRetired: the buffer was empty and the session was marked
	// Removed.
	FlushRetired

	// FlushEmpty: a Finished session had nothing to send and was left
	// in the registry.
	FlushEmpty

	// FlushRemoved: a Finished session had nothing to send and was
	// removed from the registry (RetireEmptyFinished).
	FlushRemoved

	// FlushNoAuth: there were events but no credentials. The buffer is
	// unchanged.
	FlushNoAuth

	// FlushSent: the sink acknowledged the batch.
	FlushSent

	// FlushFailed: the sink call failed; the retry policy decided what
	// happened to the events.
	FlushFailed
)

var flushResultNames = [...]string{
	FlushSkipped: "skipped",
	FlushRetired: "retired",
	FlushEmpty:   "empty",
	FlushRemoved: "removed",
	FlushNoAuth:  "no_auth",
	FlushSent:    "sent",
	FlushFailed:  "failed",
}

func (r FlushResult) String() string {
	if int(r) < len(flushResultNames) {
		return flushResultNames[r]
	}
	return "unknown"
}

// DispatcherConfig holds the Dispatcher's collaborators.
type DispatcherConfig struct {
	Registry *Registry
	Sync     *ClockSynchronizer
	Auth     AuthProvider
	Sink     BatchSink
	Retry    RetryPolicy
	Clock    clock.Clock
	Logger   *slog.Logger

	// SendTimeout bounds each sink call. Zero leaves it to ctx.
	SendTimeout time.Duration

	// RetireEmptyFinished removes Finished sessions with an empty
	// buffer instead of leaving them in the registry.
	RetireEmptyFinished bool
}

// Dispatcher composes batches from session buffers and sends them.
// The registry lock is held only to snapshot and to settle a batch,
// never across the sink call.
type Dispatcher struct {
	registry            *Registry
	sync                *ClockSynchronizer
	auth                AuthProvider
	sink                BatchSink
	retry               RetryPolicy
	clock               clock.Clock
	logger              *slog.Logger
	sendTimeout         time.Duration
	retireEmptyFinished bool
}

// NewDispatcher creates a Dispatcher. A nil Retry is LeaveIntact.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	retry := config.Retry
	if retry == nil {
		retry = LeaveIntact{}
	}
	return &Dispatcher{
		registry:            config.Registry,
		sync:                config.Sync,
		auth:                config.Auth,
		sink:                config.Sink,
		retry:               retry,
		clock:               config.Clock,
		logger:              config.Logger,
		sendTimeout:         config.SendTimeout,
		retireEmptyFinished: config.RetireEmptyFinished,
	}
}

// Flush sends sessionID's buffered events as one batch. When resync is
// set the session's clock offset is refreshed first so the batch
// carries the new value.
func (d *Dispatcher) Flush(ctx context.Context, sessionID string, resync bool) FlushResult {
	now := d.clock.Now()
	heartbeat := newEvent(EventHeartbeat, now.UnixMilli(), nil)

	outcome, ticket := d.registry.beginFlush(sessionID, now, heartbeat, d.retireEmptyFinished)
	switch outcome {
	case flushSkipped:
		return FlushSkipped
	case flushRetired:
		d.logger.Debug("retired idle session", "session_id", sessionID)
		return FlushRetired
	case flushEmptyFinished:
		return FlushEmpty
	case flushRemoved:
		d.logger.Debug("removed finished session with empty buffer", "session_id", sessionID)
		return FlushRemoved
	}

	credentials, ok := d.auth.Credentials()
	if !ok {
		d.registry.abandonFlush(ticket)
		d.logger.Debug("no session token, skipping dispatch",
			"session_id", sessionID,
			"pending_events", len(ticket.events),
		)
		return FlushNoAuth
	}

	if resync && d.sync != nil {
		d.sync.Sync(ctx, sessionID)
	}

	batch := Batch{
		SessionID:    sessionID,
		DispatchTime: clock.Millis(d.clock),
		Payload:      ticket.events,
		ClockOffset:  d.registry.clockOffsetFor(ticket),
	}

	sendContext := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendContext, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	if err := d.sink.SendBatch(sendContext, credentials.Customer, credentials.BusinessUnit, batch); err != nil {
		decision := d.registry.failFlush(ticket, d.clock.Now(), func(attempt int) RetryDecision {
			return d.retry.Next(attempt, err)
		})
		d.logger.Warn("batch send failed",
			"session_id", sessionID,
			"events", len(batch.Payload),
			"error", err,
			"retry_delay", decision.Delay,
			"discarded", decision.Discard,
		)
		return FlushFailed
	}

	removed := d.registry.acknowledgeFlush(ticket)
	d.logger.Debug("batch sent",
		"session_id", sessionID,
		"events", len(batch.Payload),
		"clock_offset_ms", batch.ClockOffset,
		"session_removed", removed,
	)
	return FlushSent
}

// FlushAll flushes every active session in session ID order, one at a
// time. It stops early if ctx is cancelled between sessions. Returns
// the number of batches the sink acknowledged.
func (d *Dispatcher) FlushAll(ctx context.Context, resync bool) int {
	return d.flushAll(ctx, resync, func() bool { return ctx.Err() != nil })
}

// flushAll is FlushAll with the early-stop condition separated from
// the context the sends run under, so a halted scheduler lets the
// send in progress finish while starting no new ones.
func (d *Dispatcher) flushAll(ctx context.Context, resync bool, halted func() bool) int {
	sent := 0
	d.registry.ForEachActiveSession(func(view SessionView) {
		if halted() {
			return
		}
		if d.Flush(ctx, view.ID, resync) == FlushSent {
			sent++
		}
	})
	return sent
}
