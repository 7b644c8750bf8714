// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryDecision is what to do with a batch whose send failed.
type RetryDecision struct {
	// Delay holds the session back from flushing for this long. Zero
	// means the next dispatch round may resend.
	Delay time.Duration

	// Discard drops the events that were in the failed batch.
	Discard bool
}

// RetryPolicy is consulted after every failed send with the session's
// consecutive failure count (1 on the first failure).
type RetryPolicy interface {
	Next(attempt int, err error) RetryDecision
}

// LeaveIntact keeps the failed batch's events in the buffer with no
// delay. They are resent, along with anything recorded since, at the
// next dispatch round. This is the default.
type LeaveIntact struct{}

// Next always returns the zero decision.
func (LeaveIntact) Next(int, error) RetryDecision { return RetryDecision{} }

// Backoff delays resends exponentially and gives up after MaxAttempts
// consecutive failures.
type Backoff struct {
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// Multiplier scales the delay per further failure. Values below 1
	// are treated as 1.
	Multiplier float64

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool

	// MaxAttempts discards the batch on this many consecutive
	// failures. Zero retries forever.
	MaxAttempts int

	// Permanent, when set, reports errors that no resend will fix. The
	// batch is discarded on the first such failure.
	Permanent func(error) bool
}

// Next returns the delay for attempt, or a discard once MaxAttempts is
// reached or err is permanent.
func (b Backoff) Next(attempt int, err error) RetryDecision {
	if b.Permanent != nil && b.Permanent(err) {
		return RetryDecision{Discard: true}
	}
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return RetryDecision{Discard: true}
	}
	return RetryDecision{Delay: b.delay(attempt)}
}

func (b Backoff) delay(attempt int) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(b.InitialDelay)
	if attempt > 1 {
		delay *= math.Pow(multiplier, float64(attempt-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= catches every
	// value the conversion cannot represent, including +Inf.
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
