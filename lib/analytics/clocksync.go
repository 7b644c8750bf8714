// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

// ComputeOffset estimates local-minus-server clock difference from one
// round trip. t0 and t1 are the local send and receive times,
// repliedTime and receivedTime the server's. Averaging the two
// samples cancels symmetric one-way latency.
func ComputeOffset(t0, t1, repliedTime, receivedTime int64) int64 {
	return ((t1 - repliedTime) + (t0 - receivedTime)) / 2
}

// ClockSynchronizer runs the init round trip for a session and stores
// the resulting offset on it. A failed or malformed round trip leaves
// the previous offset in place.
type ClockSynchronizer struct {
	registry *Registry
	auth     AuthProvider
	syncer   TimeSyncer
	clock    clock.Clock
	logger   *slog.Logger
	timeout  time.Duration

	// includeDeviceMetrics mirrors the settings of the most recent
	// init reply.
	includeDeviceMetrics atomic.Bool
}

// NewClockSynchronizer creates a synchronizer. timeout bounds each
// round trip; zero leaves it to ctx.
func NewClockSynchronizer(registry *Registry, auth AuthProvider, syncer TimeSyncer, clk clock.Clock, logger *slog.Logger, timeout time.Duration) *ClockSynchronizer {
	return &ClockSynchronizer{
		registry: registry,
		auth:     auth,
		syncer:   syncer,
		clock:    clk,
		logger:   logger,
		timeout:  timeout,
	}
}

// Sync performs one round trip for sessionID and reports whether a
// new offset was stored. Without credentials nothing is sent.
func (c *ClockSynchronizer) Sync(ctx context.Context, sessionID string) bool {
	credentials, ok := c.auth.Credentials()
	if !ok {
		c.logger.Debug("no session token, skipping clock sync", "session_id", sessionID)
		return false
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	t0 := clock.Millis(c.clock)
	reply, err := c.syncer.SyncTime(ctx, credentials.Customer, credentials.BusinessUnit, sessionID)
	t1 := clock.Millis(c.clock)

	if err != nil {
		if errors.Is(err, ErrMalformedReply) {
			// The reply arrived; its settings still apply even when the
			// timestamps are unusable.
			c.applySettings(reply.Settings)
			c.logger.Warn("malformed clock sync reply, keeping previous offset",
				"session_id", sessionID,
				"error", err,
			)
			return false
		}
		c.logger.Warn("clock sync failed",
			"session_id", sessionID,
			"error", err,
		)
		return false
	}

	c.applySettings(reply.Settings)

	offset := ComputeOffset(t0, t1, reply.RepliedTime, reply.ReceivedTime)
	if !c.registry.SetClockOffset(sessionID, offset) {
		c.logger.Debug("session gone before clock sync completed", "session_id", sessionID)
		return false
	}
	c.logger.Debug("clock offset updated",
		"session_id", sessionID,
		"clock_offset_ms", offset,
		"round_trip_ms", t1-t0,
	)
	return true
}

func (c *ClockSynchronizer) applySettings(settings *SyncSettings) {
	c.includeDeviceMetrics.Store(settings != nil && settings.IncludeDeviceMetrics)
}

// IncludeDeviceMetrics reports the includeDeviceMetrics setting of the
// last init reply. False until a reply has been received.
func (c *ClockSynchronizer) IncludeDeviceMetrics() bool {
	return c.includeDeviceMetrics.Load()
}
