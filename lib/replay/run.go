// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

// Tracker is the set of tracker operations a script can drive.
// *analytics.Tracker implements it.
type Tracker interface {
	Created(sessionID string, params map[string]string)
	PlayerReady(sessionID string, params map[string]string)
	HandshakeStarted(sessionID string, params map[string]string)
	Started(sessionID string, position int64, params map[string]string)
	Paused(sessionID string, position int64, params map[string]string)
	Resumed(sessionID string, position int64, params map[string]string)
	Seeked(sessionID string, position int64, params map[string]string)
	BitrateChanged(sessionID string, position int64, params map[string]string)
	StartCasting(sessionID string, position int64, params map[string]string)
	StopCasting(sessionID string, position int64, params map[string]string)
	BufferingStarted(sessionID string, position int64, params map[string]string)
	BufferingEnded(sessionID string, position int64, params map[string]string)
	Error(sessionID string, position int64, params map[string]string)
	Completed(sessionID string, params map[string]string)
	Aborted(sessionID string, position int64, params map[string]string)
	SetCustomAttribute(key, value string)
	DispatchNow(ctx context.Context) int
	Shutdown(ctx context.Context)
}

type operation func(ctx context.Context, tracker Tracker, sessionID string, step Step)

func withoutPosition(call func(Tracker, string, map[string]string)) operation {
	return func(_ context.Context, tracker Tracker, sessionID string, step Step) {
		call(tracker, sessionID, step.Params)
	}
}

func withPosition(call func(Tracker, string, int64, map[string]string)) operation {
	return func(_ context.Context, tracker Tracker, sessionID string, step Step) {
		call(tracker, sessionID, step.Position, step.Params)
	}
}

// operations maps script op names to tracker calls.
var operations = map[string]operation{
	"created":          withoutPosition(Tracker.Created),
	"playerReady":      withoutPosition(Tracker.PlayerReady),
	"handshakeStarted": withoutPosition(Tracker.HandshakeStarted),
	"started":          withPosition(Tracker.Started),
	"paused":           withPosition(Tracker.Paused),
	"resumed":          withPosition(Tracker.Resumed),
	"seeked":           withPosition(Tracker.Seeked),
	"bitrateChanged":   withPosition(Tracker.BitrateChanged),
	"startCasting":     withPosition(Tracker.StartCasting),
	"stopCasting":      withPosition(Tracker.StopCasting),
	"bufferingStarted": withPosition(Tracker.BufferingStarted),
	"bufferingEnded":   withPosition(Tracker.BufferingEnded),
	"error":            withPosition(Tracker.Error),
	"completed":        withoutPosition(Tracker.Completed),
	"aborted":          withPosition(Tracker.Aborted),

	// dispatch forces an immediate round instead of waiting for the
	// scheduler.
	"dispatch": func(ctx context.Context, tracker Tracker, _ string, _ Step) {
		tracker.DispatchNow(ctx)
	},
}

// Result summarizes a run.
type Result struct {
	Sessions int
	Steps    int
	Elapsed  time.Duration
}

// Run plays script against tracker and then shuts the tracker down.
// Waits use clk. If ctx is cancelled, sessions stop at their next
// step, the tracker is still shut down, and the context error is
// returned.
func Run(ctx context.Context, tracker Tracker, script *Script, clk clock.Clock, logger *slog.Logger) (Result, error) {
	if err := script.Validate(); err != nil {
		return Result{}, err
	}
	start := clk.Now()

	for key, value := range script.Attributes {
		tracker.SetCustomAttribute(key, value)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		steps int
	)
	for _, session := range script.Sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			played := playSession(ctx, tracker, session, clk, logger)
			mu.Lock()
			steps += played
			mu.Unlock()
		}()
	}
	wg.Wait()

	// The final dispatch still runs when ctx was cancelled.
	tracker.Shutdown(context.WithoutCancel(ctx))

	result := Result{Sessions: len(script.Sessions), Steps: steps, Elapsed: clk.Now().Sub(start)}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("replay interrupted: %w", err)
	}
	return result, nil
}

// playSession runs one session's steps and returns how many ran.
func playSession(ctx context.Context, tracker Tracker, session Session, clk clock.Clock, logger *slog.Logger) int {
	for i, step := range session.Steps {
		if step.Wait > 0 {
			select {
			case <-clk.After(time.Duration(step.Wait)):
			case <-ctx.Done():
				return i
			}
		}
		if ctx.Err() != nil {
			return i
		}
		operations[step.Op](ctx, tracker, session.ID, step)
		logger.Debug("replay step", "session_id", session.ID, "op", step.Op, "position", step.Position)
	}
	return len(session.Steps)
}
