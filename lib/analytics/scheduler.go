// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

// Schedule is the scheduler's timing. Thresholds are in ticks and a
// round is due once the ticks since the last round strictly exceed
// the applicable threshold.
type Schedule struct {
	// Cycle is the tick period.
	Cycle time.Duration

	// PurgeTicks is the threshold while any session has pending
	// events.
	PurgeTicks int64

	// HeartbeatTicks is the threshold while no session has pending
	// events. Rounds at this rate produce the heartbeats.
	HeartbeatTicks int64

	// ClockCheckTicks triggers a clock resync before each flush of a
	// round when the tick counter has drifted this far from the last
	// round.
	ClockCheckTicks int64
}

// DefaultSchedule is a one-second cycle with a 3-tick purge, a
// 60-tick heartbeat, and a 5-minute clock check.
func DefaultSchedule() Schedule {
	return Schedule{
		Cycle:           time.Second,
		PurgeTicks:      3,
		HeartbeatTicks:  60,
		ClockCheckTicks: 300,
	}
}

// withDefaults fills zero fields from DefaultSchedule.
func (s Schedule) withDefaults() Schedule {
	defaults := DefaultSchedule()
	if s.Cycle <= 0 {
		s.Cycle = defaults.Cycle
	}
	if s.PurgeTicks <= 0 {
		s.PurgeTicks = defaults.PurgeTicks
	}
	if s.HeartbeatTicks <= 0 {
		s.HeartbeatTicks = defaults.HeartbeatTicks
	}
	if s.ClockCheckTicks <= 0 {
		s.ClockCheckTicks = defaults.ClockCheckTicks
	}
	return s
}

// Scheduler is the periodic driver. Each tick advances a counter and
// runs a dispatch round across all active sessions when the two-speed
// policy says one is due.
type Scheduler struct {
	registry   *Registry
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
	schedule   Schedule

	// round serializes dispatch rounds between the loop and
	// DispatchNow.
	round sync.Mutex

	mu           sync.Mutex
	ticks        int64
	lastDispatch int64
	cancel       context.CancelFunc
	done         chan struct{}

	// activeRounds counts rounds tick is running. A Clear issued
	// during one may come from a BatchSink or TimeSyncer on the loop
	// goroutine and must not wait for the loop.
	activeRounds int

	// tickHook, when set before Start, is called by the loop after
	// every tick with whether a round ran.
	tickHook func(dispatched bool)
}

// NewScheduler creates a stopped scheduler. Zero fields of schedule
// take their defaults.
func NewScheduler(registry *Registry, dispatcher *Dispatcher, clk clock.Clock, logger *slog.Logger, schedule Schedule) *Scheduler {
	return &Scheduler{
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
		schedule:   schedule.withDefaults(),
	}
}

// Start launches the periodic loop. The loop runs until ctx is
// cancelled or Clear is called. Starting a running scheduler does
// nothing. Both counters restart from zero.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ticks = 0
	s.lastDispatch = 0

	loopContext, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	// The ticker is created before Start returns so that a fake clock
	// sees it registered as soon as the scheduler is running.
	ticker := s.clock.NewTicker(s.schedule.Cycle)
	go s.run(loopContext, ticker, done)
}

func (s *Scheduler) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatched := s.tick(ctx)
			if s.tickHook != nil {
				s.tickHook(dispatched)
			}
		}
	}
}

// Tick advances the counter by one and runs a round if due. It is
// what the loop calls every cycle; tests call it directly to step the
// policy without a ticker. Reports whether a round ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) bool {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.ticks++
	threshold := s.schedule.HeartbeatTicks
	if s.registry.HasPendingData() {
		threshold = s.schedule.PurgeTicks
	}
	if s.lastDispatch+threshold >= s.ticks {
		s.mu.Unlock()
		return false
	}
	resync := s.resyncDueLocked()
	s.lastDispatch = s.ticks
	ticks := s.ticks
	s.activeRounds++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeRounds--
		s.mu.Unlock()
	}()

	s.round.Lock()
	defer s.round.Unlock()

	// Sends in progress when the loop is halted run to completion; no
	// further sessions are started.
	sent := s.dispatcher.flushAll(context.WithoutCancel(ctx), resync, func() bool { return ctx.Err() != nil })
	s.logger.Debug("dispatch round",
		"tick", ticks,
		"threshold", threshold,
		"resync", resync,
		"batches_sent", sent,
	)
	return true
}

func (s *Scheduler) resyncDueLocked() bool {
	drift := s.ticks - s.lastDispatch
	if drift < 0 {
		drift = -drift
	}
	return drift > s.schedule.ClockCheckTicks
}

// DispatchNow runs a full round immediately, bypassing the thresholds.
// The tick counters are left alone. Returns the number of batches the
// sink acknowledged.
func (s *Scheduler) DispatchNow(ctx context.Context) int {
	s.mu.Lock()
	resync := s.resyncDueLocked()
	s.mu.Unlock()

	s.round.Lock()
	defer s.round.Unlock()
	return s.dispatcher.FlushAll(ctx, resync)
}

// Clear halts the periodic loop. No round starts after Clear returns.
// When the loop is idle Clear waits for it to exit; when a round is in
// progress that round finishes its current send, starts no other, and
// Clear returns without waiting, so it may be called from a BatchSink
// or TimeSyncer running under the loop. DispatchNow still waits for
// that round. Safe to call repeatedly. The counters reset to zero.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	if cancel != nil {
		cancel()
	}
	inRound := s.activeRounds > 0
	s.ticks = 0
	s.lastDispatch = 0
	s.mu.Unlock()

	if done != nil && !inRound {
		<-done
	}
}

// Running reports whether the periodic loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// runningLocked also reports false when the loop exited because the
// Start context was cancelled.
func (s *Scheduler) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Ticks returns the tick counter and the tick of the last round.
func (s *Scheduler) Ticks() (ticks, lastDispatch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.lastDispatch
}
