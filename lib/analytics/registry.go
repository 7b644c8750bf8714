// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"sort"
	"sync"
	"time"
)

// Registry maps session IDs to their buffers. A session exists from
// its first recorded event until it is hard-removed; operations on an
// unknown ID are no-ops, never errors.
//
// Thread-safe: every method takes the registry mutex for its whole
// read-modify-write, so an event appended concurrently with a flush is
// either in the flushed batch or left for the next one, never lost.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// Record appends event to the session's buffer, creating the session
// if absent. When stampOffset is set the event carries the session's
// current playback position. On creation, onCreate (if non-nil)
// supplies a second event appended right after the first. Record
// reports whether it created the session.
func (r *Registry) Record(sessionID string, event Event, stampOffset bool, onCreate func() Event) bool {
	return r.record(sessionID, event, stampOffset, onCreate, noTransition)
}

// RecordTransition is Record followed by a move to state, under one
// lock. A concurrent flush sees either neither or both.
func (r *Registry) RecordTransition(sessionID string, event Event, stampOffset bool, onCreate func() Event, state State) bool {
	return r.record(sessionID, event, stampOffset, onCreate, moveTo(state))
}

// transition is an optional state change applied with a recorded
// event. The zero value changes nothing.
type transition struct {
	state State
	set   bool
}

var noTransition transition

func moveTo(state State) transition {
	return transition{state: state, set: true}
}

func (r *Registry) record(sessionID string, event Event, stampOffset bool, onCreate func() Event, next transition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, state: StateIdle}
		r.sessions[sessionID] = s
	}
	if stampOffset {
		event = event.withOffset(s.position)
	}
	s.events = append(s.events, event)
	if !ok && onCreate != nil {
		s.events = append(s.events, onCreate())
	}
	if next.set {
		s.state = next.state
	}
	return !ok
}

// SetPlaybackPosition updates the session's playback position.
func (r *Registry) SetPlaybackPosition(sessionID string, position int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.position = position
	}
}

// Transition overwrites the session's lifecycle state. Any state may
// follow any other.
func (r *Registry) Transition(sessionID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.state = state
	}
}

// Retire removes the session entirely when hard is set, and otherwise
// marks it Removed while keeping it in the registry.
func (r *Registry) Retire(sessionID string, hard bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retireLocked(sessionID, hard)
}

func (r *Registry) retireLocked(sessionID string, hard bool) {
	if hard {
		delete(r.sessions, sessionID)
		return
	}
	if s, ok := r.sessions[sessionID]; ok {
		s.state = StateRemoved
	}
}

// SetClockOffset stores a clock offset on the session. Returns false
// if the session no longer exists.
func (r *Registry) SetClockOffset(sessionID string, offset int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if ok {
		s.clockOffset = offset
	}
	return ok
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (SessionView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return SessionView{}, false
	}
	return s.view(), true
}

// Len returns the number of sessions, including soft-removed ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ForEachActiveSession calls visitor with a copy of every session not
// in the Removed state, in session ID order. The registry lock is not
// held while visitor runs, so visitor may call back into the registry.
func (r *Registry) ForEachActiveSession(visitor func(SessionView)) {
	r.mu.Lock()
	views := make([]SessionView, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.state != StateRemoved {
			views = append(views, s.view())
		}
	}
	r.mu.Unlock()

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	for _, view := range views {
		visitor(view)
	}
}

// HasPendingData reports whether any flushable session has buffered
// events. Late events on Removed sessions are never flushed and do not
// count.
func (r *Registry) HasPendingData() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.state != StateRemoved && len(s.events) > 0 {
			return true
		}
	}
	return false
}

// flushOutcome classifies what beginFlush decided.
type flushOutcome uint8

const (
	// flushSkipped: absent, Removed, already in flight, or held back
	// by a retry delay.
	flushSkipped flushOutcome = iota

	// flushRetired: empty buffer, soft-retired to Removed.
	flushRetired

	// flushRemoved: empty Finished buffer, hard-removed (only with
	// retireEmptyFinished).
	flushRemoved

	// flushEmptyFinished: empty Finished buffer left in place.
	flushEmptyFinished

	// flushReady: events snapshotted and the session marked in flight.
	flushReady
)

// flushTicket identifies one in-flight flush. The session pointer
// guards against the ID having been removed and recreated while the
// batch was being sent.
type flushTicket struct {
	session *session
	events  []Event
}

// beginFlush performs the locked half of a flush: heartbeat synthesis
// for idle playing sessions, idle cleanup, and the batch snapshot.
// heartbeat is appended (stamped with the playback position) only if
// the session is Playing with an empty buffer.
func (r *Registry) beginFlush(sessionID string, now time.Time, heartbeat Event, retireEmptyFinished bool) (flushOutcome, flushTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.state == StateRemoved || s.inFlight || now.Before(s.notBefore) {
		return flushSkipped, flushTicket{}
	}

	if s.state == StatePlaying && len(s.events) == 0 {
		s.events = append(s.events, heartbeat.withOffset(s.position))
	}

	if len(s.events) == 0 {
		if s.state != StateFinished {
			s.state = StateRemoved
			return flushRetired, flushTicket{}
		}
		if retireEmptyFinished {
			delete(r.sessions, sessionID)
			return flushRemoved, flushTicket{}
		}
		return flushEmptyFinished, flushTicket{}
	}

	s.inFlight = true
	return flushReady, flushTicket{
		session: s,
		events:  append([]Event(nil), s.events...),
	}
}

// clockOffsetFor returns the offset to report with ticket's batch.
func (r *Registry) clockOffsetFor(ticket flushTicket) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ticket.session.clockOffset
}

// currentLocked reports whether ticket's session is still the one
// registered under its ID. Must be called with r.mu held.
func (r *Registry) currentLocked(ticket flushTicket) bool {
	return ticket.session != nil && r.sessions[ticket.session.id] == ticket.session
}

// abandonFlush releases a ticket without changing the buffer. Used
// when the send was skipped (no credentials, encoding failure).
func (r *Registry) abandonFlush(ticket flushTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.session != nil {
		ticket.session.inFlight = false
	}
}

// acknowledgeFlush removes the sent events from the front of the
// buffer and resets the retry count. A Finished session whose buffer
// is now empty is removed from the registry; events recorded while
// the batch was in flight keep it alive until they are sent too.
// Returns true if the session was removed.
func (r *Registry) acknowledgeFlush(ticket flushTicket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := ticket.session
	if s == nil {
		return false
	}
	s.inFlight = false
	if !r.currentLocked(ticket) {
		return false
	}

	s.events = dropSent(s.events, len(ticket.events))
	s.retryCount = 0
	s.notBefore = time.Time{}

	if s.state == StateFinished && len(s.events) == 0 {
		delete(r.sessions, s.id)
		return true
	}
	return false
}

// failFlush records a failed send. decide receives the new
// consecutive failure count and returns the retry decision; a discard
// drops the sent events and resets the count.
func (r *Registry) failFlush(ticket flushTicket, now time.Time, decide func(attempt int) RetryDecision) RetryDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := ticket.session
	if s == nil {
		return RetryDecision{}
	}
	s.inFlight = false
	if !r.currentLocked(ticket) {
		return RetryDecision{}
	}

	s.retryCount++
	decision := decide(s.retryCount)
	if decision.Discard {
		s.events = dropSent(s.events, len(ticket.events))
		s.retryCount = 0
		s.notBefore = time.Time{}
		return decision
	}
	if decision.Delay > 0 {
		s.notBefore = now.Add(decision.Delay)
	}
	return decision
}

// dropSent removes the first n events, which are the ones a batch was
// built from: events are only ever appended while a flush is in flight.
func dropSent(events []Event, n int) []Event {
	if n >= len(events) {
		return nil
	}
	remaining := make([]Event, len(events)-n)
	copy(remaining, events[n:])
	return remaining
}
