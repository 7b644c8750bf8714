// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/eventsink/lib/testutil"
)

func TestNewTrackerRequiresCollaborators(t *testing.T) {
	sink := newFakeSink()
	auth := &fakeAuth{token: "token"}
	syncer := newFakeSyncer(nil)
	for name, options := range map[string]Options{
		"no auth":      {TimeSync: syncer, Sink: sink},
		"no time sync": {Auth: auth, Sink: sink},
		"no sink":      {Auth: auth, TimeSync: syncer},
	} {
		if _, err := NewTracker(options); err == nil {
			t.Errorf("%s: NewTracker succeeded", name)
		}
	}
}

func TestTrackerEventOrderIsCallOrder(t *testing.T) {
	f := newTrackerFixture(t, nil)
	tracker := f.tracker

	tracker.Created("s1", nil)
	tracker.PlayerReady("s1", nil)
	tracker.HandshakeStarted("s1", nil)
	tracker.Started("s1", 0, nil)
	tracker.Paused("s1", 100, nil)
	tracker.Resumed("s1", 100, nil)
	tracker.Seeked("s1", 5000, nil)
	tracker.BitrateChanged("s1", 5100, map[string]string{"Bitrate": "3000000"})
	tracker.BufferingStarted("s1", 5200, nil)
	tracker.BufferingEnded("s1", 5300, nil)
	tracker.StartCasting("s1", 5400, nil)
	tracker.StopCasting("s1", 5500, nil)
	tracker.Error("s1", 5600, nil)
	tracker.Completed("s1", nil)

	view, _ := tracker.Registry().Get("s1")
	want := []string{
		EventCreated, EventDeviceInfo, EventPlayerReady, EventHandshakeStarted,
		EventStarted, EventPaused, EventResumed, EventScrubbedTo, EventBitrateChanged,
		EventBufferingStarted, EventBufferingEnded, EventStartCasting, EventStopCasting,
		EventError, EventCompleted,
	}
	if got := eventTypes(view.Events); !slices.Equal(got, want) {
		t.Fatalf("events =\n%v\nwant\n%v", got, want)
	}
	if view.State != StateFinished {
		t.Fatalf("state = %s, want finished", view.State)
	}
}

func TestTrackerStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		operate func(*Tracker)
		want    State
	}{
		{"created", func(tr *Tracker) { tr.Created("s", nil) }, StateIdle},
		{"started", func(tr *Tracker) { tr.Started("s", 0, nil) }, StatePlaying},
		{"paused keeps playing", func(tr *Tracker) { tr.Started("s", 0, nil); tr.Paused("s", 1, nil) }, StatePlaying},
		{"error", func(tr *Tracker) { tr.Started("s", 0, nil); tr.Error("s", 1, nil) }, StateDirty},
		{"start casting", func(tr *Tracker) { tr.Started("s", 0, nil); tr.StartCasting("s", 1, nil) }, StateDirty},
		{"aborted", func(tr *Tracker) { tr.Started("s", 0, nil); tr.Aborted("s", 1, nil) }, StateFinished},
		// Not validated: started after completion is accepted.
		{"started after completed", func(tr *Tracker) { tr.Completed("s", nil); tr.Started("s", 0, nil) }, StatePlaying},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newTrackerFixture(t, nil)
			test.operate(f.tracker)
			view, _ := f.tracker.Registry().Get("s")
			if view.State != test.want {
				t.Fatalf("state = %s, want %s", view.State, test.want)
			}
		})
	}
}

func TestTrackerSessionCreationAppendsDeviceInfoAndSyncs(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.Created("s1", nil)
	f.tracker.PlayerReady("s1", nil)
	f.settle()

	view, _ := f.tracker.Registry().Get("s1")
	device := view.Events[1]
	if device.Type != EventDeviceInfo {
		t.Fatalf("second event = %s, want %s", device.Type, EventDeviceInfo)
	}
	if device.Properties["DeviceId"] != "device-1" || device.Properties["Manufacturer"] != "Google" {
		t.Fatalf("device properties = %v", device.Properties)
	}
	if f.syncer.callCount() != 1 {
		t.Fatalf("clock sync ran %d times, want once per session", f.syncer.callCount())
	}
}

func TestTrackerFirstEventPositionIsNotStored(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.Paused("s1", 9000, nil)
	f.tracker.Resumed("s1", 9500, nil)

	view, _ := f.tracker.Registry().Get("s1")
	if offset := view.Events[0].OffsetTime; offset == nil || *offset != 0 {
		t.Fatalf("first event OffsetTime = %v, want 0", offset)
	}
	if offset := view.Events[2].OffsetTime; offset == nil || *offset != 9500 {
		t.Fatalf("second event OffsetTime = %v, want 9500", offset)
	}
}

func TestTrackerNoSessionWithoutEvents(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.SetPlaybackPosition("never", 100)
	f.tracker.DispatchNow(context.Background())
	f.tracker.ExitOngoingSessions()

	if f.tracker.Registry().Len() != 0 {
		t.Fatalf("registry has %d sessions, want 0", f.tracker.Registry().Len())
	}
}

func TestTrackerStartedSnapshotsAttributes(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.SetCustomAttribute("channel", "sports")
	f.tracker.Created("s1", nil)
	f.tracker.Started("s1", 0, nil)
	f.tracker.SetCustomAttribute("late", "excluded")

	if sent := f.tracker.DispatchNow(context.Background()); sent != 1 {
		t.Fatalf("DispatchNow sent %d batches, want 1", sent)
	}

	var started []Event
	for _, event := range f.sink.lastBatch(t).Payload {
		if event.Type == EventStarted {
			started = append(started, event)
		}
	}
	if len(started) != 1 {
		t.Fatalf("batch has %d started events, want 1", len(started))
	}
	if want := map[string]string{"channel": "sports"}; !maps.Equal(started[0].Attributes, want) {
		t.Fatalf("Attributes = %v, want %v", started[0].Attributes, want)
	}
}

func TestTrackerClearCustomAttributes(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.SetCustomAttribute("a", "1")
	f.tracker.ClearCustomAttributes()
	f.tracker.Started("s1", 0, nil)

	view, _ := f.tracker.Registry().Get("s1")
	attributes := view.Events[0].Attributes
	if attributes == nil || len(attributes) != 0 {
		t.Fatalf("Attributes = %v, want empty non-nil map", attributes)
	}
}

func TestTrackerHeartbeatAfterSixtyIdleTicks(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()
	scheduler := f.tracker.Scheduler()

	f.tracker.Created("s1", nil)
	f.tracker.Started("s1", 1500, nil)
	if sent := f.tracker.DispatchNow(ctx); sent != 1 {
		t.Fatalf("DispatchNow sent %d, want 1", sent)
	}

	for tick := 1; tick <= 60; tick++ {
		if scheduler.Tick(ctx) {
			t.Fatalf("round ran at idle tick %d, before the heartbeat threshold", tick)
		}
	}
	if !scheduler.Tick(ctx) {
		t.Fatal("no round after 60 idle ticks")
	}

	payload := f.sink.lastBatch(t).Payload
	if len(payload) != 1 || payload[0].Type != EventHeartbeat {
		t.Fatalf("heartbeat batch = %v, want exactly one heartbeat", eventTypes(payload))
	}
	if offset := payload[0].OffsetTime; offset == nil || *offset != 1500 {
		t.Fatalf("heartbeat OffsetTime = %v, want 1500", offset)
	}
}

func TestTrackerPendingEventsFlushQuickly(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()
	scheduler := f.tracker.Scheduler()

	f.tracker.Paused("s1", 10, nil)
	for tick := 1; tick <= 3; tick++ {
		if scheduler.Tick(ctx) {
			t.Fatalf("round ran at tick %d; the purge threshold must be exceeded", tick)
		}
	}
	if !scheduler.Tick(ctx) {
		t.Fatal("no round at tick 4 with pending events")
	}
	if f.sink.callCount() != 1 {
		t.Fatalf("sink called %d times, want 1", f.sink.callCount())
	}

	// The next burst waits another purge interval from the last round.
	f.tracker.Resumed("s1", 20, nil)
	for tick := 5; tick <= 7; tick++ {
		if scheduler.Tick(ctx) {
			t.Fatalf("round ran at tick %d, too soon after the last one", tick)
		}
	}
	if !scheduler.Tick(ctx) {
		t.Fatal("no round at tick 8")
	}
	ticks, last := scheduler.Ticks()
	if ticks != 8 || last != 8 {
		t.Fatalf("Ticks() = %d, %d, want 8, 8", ticks, last)
	}
}

func TestTrackerSuccessfulFlushResetsRetryCount(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()
	failure := errors.New("503 service unavailable")
	f.sink.errorSeq = []error{failure, failure, nil}

	f.tracker.Created("s1", nil)
	f.tracker.DispatchNow(ctx)
	f.tracker.DispatchNow(ctx)

	view, _ := f.tracker.Registry().Get("s1")
	if view.RetryCount != 2 || len(view.Events) != 2 {
		t.Fatalf("after two failures: retryCount=%d events=%d, want 2 and 2", view.RetryCount, len(view.Events))
	}

	if sent := f.tracker.DispatchNow(ctx); sent != 1 {
		t.Fatalf("third DispatchNow sent %d, want 1", sent)
	}
	view, _ = f.tracker.Registry().Get("s1")
	if view.RetryCount != 0 || len(view.Events) != 0 {
		t.Fatalf("after success: retryCount=%d events=%d, want 0 and 0", view.RetryCount, len(view.Events))
	}
}

func TestTrackerCompletedFlushRemovesSession(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()

	f.tracker.Started("done", 0, nil)
	f.tracker.Completed("done", nil)
	f.tracker.Started("paused", 0, nil)
	f.tracker.Paused("paused", 700, nil)

	if sent := f.tracker.DispatchNow(ctx); sent != 2 {
		t.Fatalf("DispatchNow sent %d, want 2", sent)
	}

	if _, ok := f.tracker.Registry().Get("done"); ok {
		t.Fatal("completed session still in the registry after a successful flush")
	}
	view, ok := f.tracker.Registry().Get("paused")
	if !ok {
		t.Fatal("paused session removed by a successful flush")
	}
	if len(view.Events) != 0 {
		t.Fatalf("paused session has %d events after flush, want 0", len(view.Events))
	}
}

func TestTrackerFlushDuringCompletedStillRemovesSession(t *testing.T) {
	var tracker *Tracker
	var once sync.Once
	f := newTrackerFixture(t, func(options *Options) {
		// Flush from inside Completed, right after its event is
		// recorded and before Completed returns.
		options.Logger = slog.New(&hookHandler{onRecord: func(record slog.Record) {
			if record.Message == "session created" {
				once.Do(func() { tracker.DispatchNow(context.Background()) })
			}
		}})
	})
	tracker = f.tracker

	f.tracker.Completed("s1", nil)
	f.tracker.DispatchNow(context.Background())

	if f.sink.callCount() != 1 {
		t.Fatalf("sink called %d times, want 1", f.sink.callCount())
	}
	if view, ok := f.tracker.Registry().Get("s1"); ok {
		t.Fatalf("completed session still present: state %s, %d events", view.State, len(view.Events))
	}
}

func TestTrackerIdleSessionRetiredOnEmptyFlush(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()

	f.tracker.Created("s1", nil)
	f.tracker.DispatchNow(ctx)
	f.tracker.DispatchNow(ctx)

	view, ok := f.tracker.Registry().Get("s1")
	if !ok || view.State != StateRemoved {
		t.Fatalf("present=%v state=%s, want soft-retired", ok, view.State)
	}

	// Late events on a removed session are kept but never sent.
	f.tracker.Paused("s1", 5, nil)
	before := f.sink.callCount()
	f.tracker.DispatchNow(ctx)
	if f.sink.callCount() != before {
		t.Fatal("removed session was flushed")
	}
}

func TestTrackerFinishedEmptySessionGap(t *testing.T) {
	for _, retire := range []bool{false, true} {
		f := newTrackerFixture(t, func(options *Options) { options.RetireEmptyFinished = retire })
		ctx := context.Background()

		// A failed flush of a completed session followed by a discard
		// leaves it Finished with an empty buffer.
		f.tracker.Completed("s1", nil)
		f.tracker.Registry().mu.Lock()
		f.tracker.Registry().sessions["s1"].events = nil
		f.tracker.Registry().mu.Unlock()

		f.tracker.DispatchNow(ctx)
		_, present := f.tracker.Registry().Get("s1")
		if present == retire {
			t.Fatalf("RetireEmptyFinished=%v: present=%v", retire, present)
		}
	}
}

func TestTrackerExitOngoingSessions(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ctx := context.Background()

	f.tracker.Started("empty", 0, nil)
	f.tracker.Paused("empty", 3000, nil)
	f.tracker.DispatchNow(ctx)
	f.tracker.Created("pending", nil)
	sentBefore := f.sink.callCount()

	f.tracker.ExitOngoingSessions()

	if f.sink.callCount() != sentBefore {
		t.Fatal("ExitOngoingSessions flushed")
	}
	for _, id := range []string{"empty", "pending"} {
		view, _ := f.tracker.Registry().Get(id)
		if len(view.Events) == 0 || view.Events[len(view.Events)-1].Type != EventAborted {
			t.Fatalf("%s: events = %v, want a trailing aborted event", id, eventTypes(view.Events))
		}
		if view.State != StateFinished {
			t.Fatalf("%s: state = %s, want finished", id, view.State)
		}
	}
	view, _ := f.tracker.Registry().Get("empty")
	if offset := view.Events[0].OffsetTime; offset == nil || *offset != 3000 {
		t.Fatalf("aborted OffsetTime = %v, want the stored position 3000", offset)
	}
}

func TestTrackerWithoutCredentialsKeepsBuffer(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.auth.setToken("")
	f.tracker.Created("s1", nil)
	f.settle()

	if sent := f.tracker.DispatchNow(context.Background()); sent != 0 {
		t.Fatalf("DispatchNow sent %d without credentials", sent)
	}
	if f.sink.callCount() != 0 || f.syncer.callCount() != 0 {
		t.Fatalf("network calls without credentials: sink=%d sync=%d", f.sink.callCount(), f.syncer.callCount())
	}
	view, _ := f.tracker.Registry().Get("s1")
	if len(view.Events) != 2 || view.RetryCount != 0 {
		t.Fatalf("events=%d retryCount=%d, want 2 and 0", len(view.Events), view.RetryCount)
	}

	f.auth.setToken("token")
	if sent := f.tracker.DispatchNow(context.Background()); sent != 1 {
		t.Fatalf("DispatchNow sent %d once credentials appeared, want 1", sent)
	}
}

func TestTrackerBatchCarriesClockOffset(t *testing.T) {
	f := newTrackerFixture(t, nil)
	now := epoch.UnixMilli()
	f.syncer.reply = SyncReply{RepliedTime: now - 100, ReceivedTime: now - 100}

	f.tracker.Created("s1", nil)
	f.settle()
	f.tracker.DispatchNow(context.Background())

	batch := f.sink.lastBatch(t)
	if batch.ClockOffset != 100 {
		t.Fatalf("ClockOffset = %d, want 100", batch.ClockOffset)
	}
	if batch.SessionID != "s1" || batch.DispatchTime != now {
		t.Fatalf("batch header = %q/%d, want s1/%d", batch.SessionID, batch.DispatchTime, now)
	}
}

func TestTrackerBackoffDelaysAndDiscards(t *testing.T) {
	f := newTrackerFixture(t, func(options *Options) {
		options.Retry = Backoff{InitialDelay: 5 * time.Second, Multiplier: 2, MaxAttempts: 2}
	})
	ctx := context.Background()
	failure := errors.New("timeout")
	f.sink.errorSeq = []error{failure, failure}

	f.tracker.Created("s1", nil)
	f.tracker.DispatchNow(ctx)
	f.tracker.DispatchNow(ctx)
	if f.sink.callCount() != 1 {
		t.Fatalf("sink called %d times inside the backoff delay, want 1", f.sink.callCount())
	}

	f.clock.Advance(5 * time.Second)
	f.tracker.DispatchNow(ctx)
	if f.sink.callCount() != 2 {
		t.Fatalf("sink called %d times after the delay, want 2", f.sink.callCount())
	}

	view, _ := f.tracker.Registry().Get("s1")
	if len(view.Events) != 0 || view.RetryCount != 0 {
		t.Fatalf("after MaxAttempts: events=%d retryCount=%d, want discarded", len(view.Events), view.RetryCount)
	}
}

func TestTrackerEventsRecordedDuringSendSurvive(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.sink.entered = make(chan struct{}, 1)
	f.sink.block = make(chan struct{})

	f.tracker.Started("s1", 0, nil)

	done := make(chan int, 1)
	go func() { done <- f.tracker.DispatchNow(context.Background()) }()

	testutil.RequireReceive(t, f.sink.entered, testutil.DefaultTimeout, "waiting for the send to start")
	f.tracker.Paused("s1", 250, nil)
	close(f.sink.block)

	if sent := testutil.RequireReceive(t, done, testutil.DefaultTimeout, "waiting for DispatchNow"); sent != 1 {
		t.Fatalf("DispatchNow sent %d, want 1", sent)
	}
	view, _ := f.tracker.Registry().Get("s1")
	if got := eventTypes(view.Events); !slices.Equal(got, []string{EventPaused}) {
		t.Fatalf("remaining events = %v, want only the one recorded mid-send", got)
	}
}

func TestTrackerSchedulerLoop(t *testing.T) {
	f := newTrackerFixture(t, nil)
	ticks := make(chan bool, 1)
	f.tracker.Scheduler().tickHook = func(dispatched bool) { ticks <- dispatched }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.tracker.Start(ctx)
	f.clock.WaitForTimers(1)

	f.tracker.Paused("s1", 10, nil)
	f.settle()
	for tick := 1; tick <= 4; tick++ {
		f.clock.Advance(time.Second)
		dispatched := testutil.RequireReceive(t, ticks, testutil.DefaultTimeout, "waiting for tick %d", tick)
		if dispatched != (tick == 4) {
			t.Fatalf("tick %d: dispatched = %v", tick, dispatched)
		}
	}
	batch := testutil.RequireReceive(t, f.sink.sent, testutil.DefaultTimeout, "waiting for batch")
	if batch.SessionID != "s1" {
		t.Fatalf("batch for %q, want s1", batch.SessionID)
	}

	f.tracker.Clear()
	f.tracker.Clear()
	if f.tracker.Scheduler().Running() {
		t.Fatal("scheduler still running after Clear")
	}
	if ticks, last := f.tracker.Scheduler().Ticks(); ticks != 0 || last != 0 {
		t.Fatalf("Ticks() after Clear = %d, %d, want 0, 0", ticks, last)
	}
}

func TestTrackerShutdown(t *testing.T) {
	f := newTrackerFixture(t, nil)
	f.tracker.Start(context.Background())
	f.clock.WaitForTimers(1)

	f.tracker.Started("a", 0, nil)
	f.tracker.Started("b", 0, nil)
	f.tracker.Paused("b", 800, nil)

	f.tracker.Shutdown(context.Background())

	if f.tracker.Scheduler().Running() {
		t.Fatal("scheduler running after Shutdown")
	}
	if f.sink.callCount() != 2 {
		t.Fatalf("Shutdown sent %d batches, want 2", f.sink.callCount())
	}
	for _, batch := range f.sink.batches {
		last := batch.Payload[len(batch.Payload)-1]
		if last.Type != EventAborted {
			t.Fatalf("session %s: last event %s, want %s", batch.SessionID, last.Type, EventAborted)
		}
	}
	if f.tracker.Registry().Len() != 0 {
		t.Fatalf("registry has %d sessions after Shutdown, want 0", f.tracker.Registry().Len())
	}
}
