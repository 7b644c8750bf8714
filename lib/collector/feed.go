// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// FeedMessage is what watchers receive for every stored batch.
type FeedMessage struct {
	Type         string   `json:"type"`
	Sequence     uint64   `json:"sequence"`
	SessionID    string   `json:"sessionId"`
	DispatchTime int64    `json:"dispatchTime"`
	ClockOffset  int64    `json:"clockOffset"`
	EventTypes   []string `json:"eventTypes"`
}

// feedMessageBatch is the FeedMessage type for a stored batch.
const feedMessageBatch = "batch"

func summarize(batch StoredBatch) FeedMessage {
	types := make([]string, 0, len(batch.Events))
	for _, event := range batch.Events {
		eventType, _ := event["EventType"].(string)
		types = append(types, eventType)
	}
	return FeedMessage{
		Type:         feedMessageBatch,
		Sequence:     batch.Sequence,
		SessionID:    batch.SessionID,
		DispatchTime: batch.DispatchTime,
		ClockOffset:  batch.ClockOffset,
		EventTypes:   types,
	}
}

// watcher is one websocket connection. Messages are queued on send
// and written by writePump, so a slow watcher never blocks Publish.
type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

func newWatcher(conn *websocket.Conn, buffer int) *watcher {
	w := &watcher{conn: conn, send: make(chan []byte, buffer)}
	go w.writePump()
	return w
}

func (w *watcher) writePump() {
	defer w.conn.Close()
	for message := range w.send {
		if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// Feed fans batch summaries out to connected watchers. A watcher whose
// queue is full is disconnected.
type Feed struct {
	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	buffer   int
	logger   *slog.Logger
}

// NewFeed creates a Feed. buffer is the per-watcher queue length.
func NewFeed(buffer int, logger *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		watchers: make(map[*watcher]struct{}),
		buffer:   buffer,
		logger:   logger,
	}
}

// Add registers a connection. The returned watcher must be passed to
// Remove when the connection ends.
func (f *Feed) Add(conn *websocket.Conn) *watcher {
	w := newWatcher(conn, f.buffer)
	f.mu.Lock()
	f.watchers[w] = struct{}{}
	f.mu.Unlock()
	return w
}

// Remove unregisters w and closes its connection. Safe to call more
// than once.
func (f *Feed) Remove(w *watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.watchers[w]; ok {
		delete(f.watchers, w)
		close(w.send)
	}
}

// Publish sends message to every watcher.
func (f *Feed) Publish(message FeedMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		f.logger.Error("encoding feed message", "error", err)
		return
	}

	// Sends happen under the read lock so Remove cannot close a queue
	// mid-send.
	f.mu.RLock()
	var slow []*watcher
	for w := range f.watchers {
		select {
		case w.send <- data:
		default:
			slow = append(slow, w)
		}
	}
	f.mu.RUnlock()

	for _, w := range slow {
		f.logger.Warn("feed watcher too slow, disconnecting", "remote", w.conn.RemoteAddr().String())
		f.Remove(w)
	}
}

// Len returns the number of connected watchers.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers)
}

// Close disconnects every watcher.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.watchers {
		delete(f.watchers, w)
		close(w.send)
	}
}
