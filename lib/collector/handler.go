// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/eventsink/lib/clock"
	"github.com/bureau-foundation/eventsink/lib/codec"
	"github.com/bureau-foundation/eventsink/lib/exposure"
	"github.com/bureau-foundation/eventsink/lib/netutil"
)

// maxDecodedSize bounds a send body after decompression.
const maxDecodedSize = 4 * netutil.MaxRequestSize

// Config configures a Handler.
type Config struct {
	Store *Store
	Feed  *Feed

	// Token, when set, is the bearer token every request must carry.
	Token string

	// IncludeDeviceMetrics is reported in every init reply's settings.
	IncludeDeviceMetrics bool

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Handler serves the collector routes.
type Handler struct {
	store                *Store
	feed                 *Feed
	token                string
	includeDeviceMetrics bool
	clock                clock.Clock
	logger               *slog.Logger
	upgrader             websocket.Upgrader
}

// NewHandler creates a Handler. Store and Logger are required.
func NewHandler(config Config) *Handler {
	if config.Store == nil {
		panic("collector.Handler: Store is required")
	}
	if config.Logger == nil {
		panic("collector.Handler: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	feed := config.Feed
	if feed == nil {
		feed = NewFeed(0, config.Logger)
	}
	return &Handler{
		store:                config.Store,
		feed:                 feed,
		token:                config.Token,
		includeDeviceMetrics: config.IncludeDeviceMetrics,
		clock:                clk,
		logger:               config.Logger,
	}
}

// Routes returns the collector's HTTP routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+exposure.InitPath, h.handleInit)
	mux.HandleFunc("POST "+exposure.SendPath, h.handleSend)
	mux.HandleFunc("GET /eventsink/batches", h.handleBatches)
	mux.HandleFunc("GET /eventsink/watch", h.handleWatch)
	return mux
}

// receivedBatch is a send body as decoded by the collector. Events
// stay generic maps: the collector does not interpret them.
type receivedBatch struct {
	Customer     string           `json:"Customer"`
	BusinessUnit string           `json:"BusinessUnit"`
	SessionID    string           `json:"SessionId"`
	DispatchTime int64            `json:"DispatchTime"`
	ClockOffset  int64            `json:"ClockOffset"`
	Payload      []map[string]any `json:"Payload"`
}

func (h *Handler) handleInit(writer http.ResponseWriter, request *http.Request) {
	receivedTime := clock.Millis(h.clock)
	if !h.authorize(writer, request) {
		return
	}

	var body exposure.InitRequest
	if _, err := h.decodeBody(request, &body); err != nil {
		h.badRequest(writer, err)
		return
	}

	reply := exposure.InitReply{
		ReceivedTime: &receivedTime,
		Settings:     &exposure.ReplySettings{IncludeDeviceMetrics: h.includeDeviceMetrics},
	}
	repliedTime := clock.Millis(h.clock)
	reply.RepliedTime = &repliedTime

	h.logger.Debug("init", "session_id", body.SessionID, "customer", body.Customer)
	writeJSON(writer, http.StatusOK, reply)
}

func (h *Handler) handleSend(writer http.ResponseWriter, request *http.Request) {
	if !h.authorize(writer, request) {
		return
	}

	var body receivedBatch
	size, err := h.decodeBody(request, &body)
	if err != nil {
		h.badRequest(writer, err)
		return
	}
	if body.SessionID == "" {
		h.badRequest(writer, errors.New("SessionId is required"))
		return
	}

	digest := request.Header.Get(exposure.DigestHeader)
	stored, err := h.store.Add(StoredBatch{
		ReceivedAt:   h.clock.Now(),
		Digest:       digest,
		Customer:     body.Customer,
		BusinessUnit: body.BusinessUnit,
		SessionID:    body.SessionID,
		DispatchTime: body.DispatchTime,
		ClockOffset:  body.ClockOffset,
		Events:       body.Payload,
		Size:         size,
	})
	if errors.Is(err, ErrDuplicateBatch) {
		h.logger.Info("duplicate batch acknowledged", "session_id", body.SessionID, "digest", digest)
		writeJSON(writer, http.StatusOK, map[string]any{"stored": false, "duplicate": true})
		return
	}
	if err != nil {
		http.Error(writer, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	h.feed.Publish(summarize(stored))
	h.logger.Info("batch stored",
		"session_id", stored.SessionID,
		"sequence", stored.Sequence,
		"events", len(stored.Events),
		"bytes", size,
	)
	writeJSON(writer, http.StatusOK, map[string]any{"stored": true, "sequence": stored.Sequence})
}

func (h *Handler) handleBatches(writer http.ResponseWriter, request *http.Request) {
	if !h.authorize(writer, request) {
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{
		"batches": h.store.List(request.URL.Query().Get("session")),
		"dropped": h.store.Dropped(),
		"bytes":   h.store.SizeBytes(),
	})
}

func (h *Handler) handleWatch(writer http.ResponseWriter, request *http.Request) {
	if !h.authorize(writer, request) {
		return
	}
	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	w := h.feed.Add(conn)
	h.logger.Info("feed watcher connected", "remote", request.RemoteAddr)

	// Watchers only listen; reading detects the close.
	go func() {
		defer func() {
			h.feed.Remove(w)
			h.logger.Info("feed watcher disconnected", "remote", request.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err == nil {
				continue
			}
			if !netutil.IsExpectedCloseError(err) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Warn("feed watcher read failed", "remote", request.RemoteAddr, "error", err)
			}
			return
		}
	}()
}

// authorize checks the bearer token and writes 401 on mismatch.
func (h *Handler) authorize(writer http.ResponseWriter, request *http.Request) bool {
	if h.token == "" {
		return true
	}
	presented, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		http.Error(writer, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// decodeBody reads, decompresses, and decodes a request body by its
// Content-Encoding and Content-Type. Returns the decoded size.
func (h *Handler) decodeBody(request *http.Request, v any) (int, error) {
	format, err := codec.FormatForContentType(request.Header.Get("Content-Type"))
	if err != nil {
		return 0, err
	}
	compression, err := codec.CompressionForContentEncoding(request.Header.Get("Content-Encoding"))
	if err != nil {
		return 0, err
	}
	raw, err := netutil.ReadLimited(request.Body, netutil.MaxRequestSize)
	if err != nil {
		return 0, fmt.Errorf("reading body: %w", err)
	}
	data, err := codec.Decompress(raw, compression, maxDecodedSize)
	if err != nil {
		return 0, err
	}
	if err := format.Decode(data, v); err != nil {
		return 0, fmt.Errorf("decoding %s body: %w", format, err)
	}
	return len(data), nil
}

func (h *Handler) badRequest(writer http.ResponseWriter, err error) {
	h.logger.Warn("rejected request", "error", err)
	http.Error(writer, err.Error(), http.StatusBadRequest)
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(v)
}
