// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the event
// sink. Components that read the time or wait on a ticker take a Clock
// instead of calling the time package, so that tests can step the
// cycle scheduler and the clock synchronizer one tick at a time.
//
// Production code uses Real(). Tests use Fake() and call Advance after
// WaitForTimers has confirmed the goroutine under test is parked on a
// timer:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go scheduler.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(time.Second)
package clock

import "time"

// Clock abstracts the time operations the event sink needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C has capacity 1: a consumer
// that falls behind loses ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Millis returns the clock's current time as Unix milliseconds, the
// unit every event timestamp and clock offset is expressed in.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
