// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"encoding/json"
	"time"
)

// State is a session's lifecycle state. Transitions are set directly
// by the operation that implies them and are never validated.
type State uint8

const (
	// StateIdle is the state of a new session.
	StateIdle State = iota

	// StatePlaying follows Playback.Started. Playing sessions with an
	// empty buffer get a heartbeat at each dispatch.
	StatePlaying

	// StateDirty follows an error or the start of casting.
	StateDirty

	// StateFinished follows completion or abort. A successful flush
	// of a finished session removes it from the registry.
	StateFinished

	// StateRemoved is terminal. The session stays in the registry so
	// that late events remain attributable, but it is never flushed.
	StateRemoved
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StatePlaying:  "playing",
	StateDirty:    "dirty",
	StateFinished: "finished",
	StateRemoved:  "removed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// session is the mutable per-session buffer. Every field is guarded by
// the owning Registry's mutex.
type session struct {
	id          string
	events      []Event
	position    int64
	clockOffset int64
	retryCount  int
	state       State

	// inFlight is set while a batch built from events is being sent.
	// A second flush of the same session is skipped until the first
	// one settles.
	inFlight bool

	// notBefore holds back flushes after a failure when the retry
	// policy asks for a delay.
	notBefore time.Time
}

// SessionView is a copy of a session's state, safe to retain.
type SessionView struct {
	ID               string
	Events           []Event
	PlaybackPosition int64
	ClockOffset      int64
	RetryCount       int
	State            State
}

func (s *session) view() SessionView {
	return SessionView{
		ID:               s.id,
		Events:           append([]Event(nil), s.events...),
		PlaybackPosition: s.position,
		ClockOffset:      s.clockOffset,
		RetryCount:       s.retryCount,
		State:            s.state,
	}
}
