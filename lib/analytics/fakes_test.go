// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/eventsink/lib/clock"
)

var epoch = time.UnixMilli(1_700_000_000_000).UTC()

// fakeAuth returns fixed credentials, or none when token is empty.
type fakeAuth struct {
	mu    sync.Mutex
	token string
}

func (f *fakeAuth) Credentials() (Credentials, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return Credentials{}, false
	}
	return Credentials{Customer: "acme", BusinessUnit: "sports", SessionToken: f.token}, true
}

func (f *fakeAuth) setToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// fakeSink records batches and returns errors from errorSeq in order;
// nil entries and calls past the end succeed. sent receives a copy of
// every batch after it is recorded.
type fakeSink struct {
	mu       sync.Mutex
	batches  []Batch
	errorSeq []error
	index    int
	sent     chan Batch

	// block, when non-nil, is waited on before returning. entered is
	// signaled first.
	block   chan struct{}
	entered chan struct{}

	// onSend, when set, runs at the start of every send on the
	// sending goroutine.
	onSend func()
}

func newFakeSink(errorSeq ...error) *fakeSink {
	return &fakeSink{errorSeq: errorSeq, sent: make(chan Batch, 64)}
}

func (f *fakeSink) SendBatch(_ context.Context, customer, businessUnit string, batch Batch) error {
	if f.onSend != nil {
		f.onSend()
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.batches = append(f.batches, batch)
	var err error
	if f.index < len(f.errorSeq) {
		err = f.errorSeq[f.index]
		f.index++
	}
	f.mu.Unlock()

	f.sent <- batch
	return err
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSink) lastBatch(t *testing.T) Batch {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		t.Fatal("no batch was sent")
	}
	return f.batches[len(f.batches)-1]
}

// fakeSyncer replies with fixed server timestamps. latency is added to
// the fake clock during the call so t1 differs from t0.
type fakeSyncer struct {
	mu      sync.Mutex
	clock   *clock.FakeClock
	latency time.Duration
	reply   SyncReply
	err     error
	calls   []string
	called  chan string
}

func newFakeSyncer(fakeClock *clock.FakeClock) *fakeSyncer {
	return &fakeSyncer{clock: fakeClock, called: make(chan string, 64)}
}

func (f *fakeSyncer) SyncTime(_ context.Context, customer, businessUnit, sessionID string) (SyncReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sessionID)
	reply, err, latency := f.reply, f.err, f.latency
	f.mu.Unlock()

	if latency > 0 {
		f.clock.Advance(latency)
	}
	f.called <- sessionID
	return reply, err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// hookHandler is a slog.Handler that calls onRecord for every record,
// letting a test act at a precise point inside an operation.
type hookHandler struct {
	onRecord func(slog.Record)
}

func (h *hookHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hookHandler) Handle(_ context.Context, record slog.Record) error {
	h.onRecord(record)
	return nil
}

func (h *hookHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *hookHandler) WithGroup(string) slog.Handler { return h }

type fixedDevice DeviceInfo

func (d fixedDevice) Identify() DeviceInfo { return DeviceInfo(d) }

// trackerFixture is a Tracker wired to fakes, with a fake clock.
type trackerFixture struct {
	tracker *Tracker
	clock   *clock.FakeClock
	auth    *fakeAuth
	sink    *fakeSink
	syncer  *fakeSyncer
}

func newTrackerFixture(t *testing.T, configure func(*Options)) *trackerFixture {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	fixture := &trackerFixture{
		clock:  fakeClock,
		auth:   &fakeAuth{token: "token"},
		sink:   newFakeSink(),
		syncer: newFakeSyncer(fakeClock),
	}
	options := Options{
		Clock:    fakeClock,
		Logger:   slog.New(slog.DiscardHandler),
		Auth:     fixture.auth,
		TimeSync: fixture.syncer,
		Sink:     fixture.sink,
		Device:   fixedDevice{DeviceID: "device-1", Model: "Pixel", OS: "linux", OSVersion: "6.1", Manufacturer: "Google"},
	}
	if configure != nil {
		configure(&options)
	}
	tracker, err := NewTracker(options)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	fixture.tracker = tracker
	t.Cleanup(tracker.Close)
	return fixture
}

// settle waits for background clock syncs started so far.
func (f *trackerFixture) settle() {
	f.tracker.background.Wait()
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, event := range events {
		types[i] = event.Type
	}
	return types
}
