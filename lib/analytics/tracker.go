// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

// DefaultRequestTimeout bounds each init and send round trip when
// Options.RequestTimeout is zero.
const DefaultRequestTimeout = 10 * time.Second

// Options configures a Tracker. Auth, TimeSync, and Sink are required.
type Options struct {
	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger

	Auth     AuthProvider
	TimeSync TimeSyncer
	Sink     BatchSink

	// Device supplies the identity appended to new sessions. Nil
	// reports a zero DeviceInfo.
	Device DeviceIdentifier

	// Retry defaults to LeaveIntact.
	Retry RetryPolicy

	// Schedule fields left zero take DefaultSchedule values.
	Schedule Schedule

	// RetireEmptyFinished removes Finished sessions whose buffer is
	// already empty at dispatch time. By default they stay in the
	// registry.
	RetireEmptyFinished bool

	// RequestTimeout bounds each network round trip.
	RequestTimeout time.Duration
}

// Tracker is the caller-facing telemetry surface. Every playback
// operation appends to an in-memory buffer and returns immediately;
// none reports an error. Network work happens on the scheduler loop
// and, for the clock sync of a new session, on a background goroutine.
//
// The playback position passed to an operation is stored on the
// session before its event is recorded, so the first event of a new
// session reports offset 0.
type Tracker struct {
	clock  clock.Clock
	logger *slog.Logger
	device DeviceIdentifier

	registry   *Registry
	sync       *ClockSynchronizer
	dispatcher *Dispatcher
	scheduler  *Scheduler

	attributesMu sync.Mutex
	attributes   map[string]string

	deviceOnce sync.Once
	deviceInfo DeviceInfo

	// lifetime scopes background clock syncs. Close cancels it.
	lifetime   context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
}

// NewTracker creates a Tracker. The scheduler is not running until
// Start is called.
func NewTracker(options Options) (*Tracker, error) {
	if options.Auth == nil {
		return nil, errors.New("analytics: Auth is required")
	}
	if options.TimeSync == nil {
		return nil, errors.New("analytics: TimeSync is required")
	}
	if options.Sink == nil {
		return nil, errors.New("analytics: Sink is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}

	registry := NewRegistry()
	synchronizer := NewClockSynchronizer(registry, options.Auth, options.TimeSync, options.Clock, options.Logger, options.RequestTimeout)
	dispatcher := NewDispatcher(DispatcherConfig{
		Registry:            registry,
		Sync:                synchronizer,
		Auth:                options.Auth,
		Sink:                options.Sink,
		Retry:               options.Retry,
		Clock:               options.Clock,
		Logger:              options.Logger,
		SendTimeout:         options.RequestTimeout,
		RetireEmptyFinished: options.RetireEmptyFinished,
	})

	lifetime, cancel := context.WithCancel(context.Background())
	return &Tracker{
		clock:      options.Clock,
		logger:     options.Logger,
		device:     options.Device,
		registry:   registry,
		sync:       synchronizer,
		dispatcher: dispatcher,
		scheduler:  NewScheduler(registry, dispatcher, options.Clock, options.Logger, options.Schedule),
		attributes: make(map[string]string),
		lifetime:   lifetime,
		cancel:     cancel,
	}, nil
}

// Start launches the periodic dispatch loop.
func (t *Tracker) Start(ctx context.Context) {
	t.scheduler.Start(ctx)
}

// Registry returns the tracker's session registry.
func (t *Tracker) Registry() *Registry { return t.registry }

// Scheduler returns the tracker's scheduler.
func (t *Tracker) Scheduler() *Scheduler { return t.scheduler }

// IncludeDeviceMetrics reports the collector's includeDeviceMetrics
// setting from the most recent init reply.
func (t *Tracker) IncludeDeviceMetrics() bool {
	return t.sync.IncludeDeviceMetrics()
}

// Record appends an event of any type. With includeOffset the event
// carries the session's current playback position. No state change.
func (t *Tracker) Record(sessionID, eventType string, includeOffset bool, params map[string]string) {
	t.record(sessionID, t.event(eventType, params), includeOffset, noTransition)
}

// SetPlaybackPosition updates a session's position without recording
// an event. Unknown sessions are ignored.
func (t *Tracker) SetPlaybackPosition(sessionID string, position int64) {
	t.registry.SetPlaybackPosition(sessionID, position)
}

func (t *Tracker) Created(sessionID string, params map[string]string) {
	t.Record(sessionID, EventCreated, false, params)
}

func (t *Tracker) PlayerReady(sessionID string, params map[string]string) {
	t.Record(sessionID, EventPlayerReady, false, params)
}

func (t *Tracker) HandshakeStarted(sessionID string, params map[string]string) {
	t.Record(sessionID, EventHandshakeStarted, false, params)
}

// Started records Playback.Started with a snapshot of the custom
// attributes and moves the session to Playing.
func (t *Tracker) Started(sessionID string, position int64, params map[string]string) {
	event := t.event(EventStarted, params)
	event.Attributes = t.CustomAttributes()
	t.registry.SetPlaybackPosition(sessionID, position)
	t.record(sessionID, event, true, moveTo(StatePlaying))
}

func (t *Tracker) Paused(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventPaused, position, params, noTransition)
}

func (t *Tracker) Resumed(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventResumed, position, params, noTransition)
}

// Seeked records Playback.ScrubbedTo at the new position.
func (t *Tracker) Seeked(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventScrubbedTo, position, params, noTransition)
}

func (t *Tracker) BitrateChanged(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventBitrateChanged, position, params, noTransition)
}

// StartCasting moves the session to Dirty.
func (t *Tracker) StartCasting(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventStartCasting, position, params, moveTo(StateDirty))
}

func (t *Tracker) StopCasting(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventStopCasting, position, params, noTransition)
}

func (t *Tracker) BufferingStarted(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventBufferingStarted, position, params, noTransition)
}

func (t *Tracker) BufferingEnded(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventBufferingEnded, position, params, noTransition)
}

// Error moves the session to Dirty.
func (t *Tracker) Error(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventError, position, params, moveTo(StateDirty))
}

// Completed moves the session to Finished. The event carries no
// playback position.
func (t *Tracker) Completed(sessionID string, params map[string]string) {
	t.record(sessionID, t.event(EventCompleted, params), false, moveTo(StateFinished))
}

// Aborted moves the session to Finished.
func (t *Tracker) Aborted(sessionID string, position int64, params map[string]string) {
	t.recordAt(sessionID, EventAborted, position, params, moveTo(StateFinished))
}

// SetCustomAttribute sets an attribute included in the Started event
// of sessions started from now on.
func (t *Tracker) SetCustomAttribute(key, value string) {
	t.attributesMu.Lock()
	defer t.attributesMu.Unlock()
	t.attributes[key] = value
}

// ClearCustomAttributes removes every custom attribute.
func (t *Tracker) ClearCustomAttributes() {
	t.attributesMu.Lock()
	defer t.attributesMu.Unlock()
	clear(t.attributes)
}

// CustomAttributes returns a copy of the current custom attributes.
func (t *Tracker) CustomAttributes() map[string]string {
	t.attributesMu.Lock()
	defer t.attributesMu.Unlock()
	return maps.Clone(t.attributes)
}

// DispatchNow flushes every active session immediately and returns
// the number of batches the sink acknowledged.
func (t *Tracker) DispatchNow(ctx context.Context) int {
	return t.scheduler.DispatchNow(ctx)
}

// ExitOngoingSessions records an aborted event at the stored playback
// position for every session that is not Removed, whether or not it
// has pending events. Nothing is sent.
func (t *Tracker) ExitOngoingSessions() {
	t.registry.ForEachActiveSession(func(view SessionView) {
		t.Aborted(view.ID, view.PlaybackPosition, nil)
	})
}

// Clear halts the periodic loop. Idempotent.
func (t *Tracker) Clear() {
	t.scheduler.Clear()
}

// Shutdown stops the loop, aborts every ongoing session, makes one
// final dispatch bounded by ctx, and closes the tracker.
func (t *Tracker) Shutdown(ctx context.Context) {
	t.Clear()
	t.ExitOngoingSessions()
	sent := t.DispatchNow(ctx)
	t.logger.Info("telemetry tracker shut down",
		"batches_sent", sent,
		"pending", t.registry.HasPendingData(),
	)
	t.Close()
}

// Close halts the loop, cancels background clock syncs, and waits for
// them to return. Events recorded after Close are buffered but new
// sessions are no longer synchronized.
func (t *Tracker) Close() {
	t.scheduler.Clear()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.background.Wait()
}

func (t *Tracker) recordAt(sessionID, eventType string, position int64, params map[string]string, next transition) {
	t.registry.SetPlaybackPosition(sessionID, position)
	t.record(sessionID, t.event(eventType, params), true, next)
}

func (t *Tracker) event(eventType string, params map[string]string) Event {
	return newEvent(eventType, clock.Millis(t.clock), params)
}

// record appends event and applies next in one registry critical
// section, so a flush never sends a Completed event while the session
// is still unfinished.
func (t *Tracker) record(sessionID string, event Event, stampOffset bool, next transition) {
	device := t.deviceSnapshot()
	created := t.registry.record(sessionID, event, stampOffset, func() Event {
		return deviceInfoEvent(event.Timestamp, device)
	}, next)
	if created {
		t.logger.Debug("session created", "session_id", sessionID, "event_type", event.Type)
		t.syncInBackground(sessionID)
	}
}

func (t *Tracker) deviceSnapshot() DeviceInfo {
	t.deviceOnce.Do(func() {
		if t.device != nil {
			t.deviceInfo = t.device.Identify()
		}
	})
	return t.deviceInfo
}

func (t *Tracker) syncInBackground(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.background.Add(1)
	go func() {
		defer t.background.Done()
		t.sync.Sync(t.lifetime, sessionID)
	}()
}
