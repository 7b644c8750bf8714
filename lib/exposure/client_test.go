// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/eventsink/lib/analytics"
	"github.com/bureau-foundation/eventsink/lib/codec"
)

var testCredentials = analytics.Credentials{Customer: "acme", BusinessUnit: "sports", SessionToken: "secret"}

func newTestClient(t *testing.T, handler http.HandlerFunc, configure func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	config := Config{
		BaseURL: server.URL + "/",
		Auth:    NewStaticAuth(testCredentials),
		Logger:  slog.New(slog.DiscardHandler),
	}
	if configure != nil {
		configure(&config)
	}
	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func replyJSON(t *testing.T, writer http.ResponseWriter, body string) {
	t.Helper()
	writer.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(writer, body); err != nil {
		t.Errorf("writing reply: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	auth := NewStaticAuth(testCredentials)
	for name, config := range map[string]Config{
		"empty base": {Auth: auth},
		"bad scheme": {BaseURL: "ftp://sink", Auth: auth},
		"no auth":    {BaseURL: "https://sink"},
	} {
		if _, err := NewClient(config); err == nil {
			t.Errorf("%s: NewClient succeeded", name)
		}
	}
}

func TestSyncTime(t *testing.T) {
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != InitPath {
			t.Errorf("request = %s %s, want POST %s", request.Method, request.URL.Path, InitPath)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var body InitRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Errorf("decoding init request: %v", err)
		}
		if body != (InitRequest{Customer: "acme", BusinessUnit: "sports", SessionID: "s1"}) {
			t.Errorf("init request = %+v", body)
		}
		replyJSON(t, writer, `{"receivedTime":1050,"repliedTime":1100,"settings":{"includeDeviceMetrics":true}}`)
	}, nil)

	reply, err := client.SyncTime(context.Background(), "acme", "sports", "s1")
	if err != nil {
		t.Fatalf("SyncTime: %v", err)
	}
	if reply.ReceivedTime != 1050 || reply.RepliedTime != 1100 {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Settings == nil || !reply.Settings.IncludeDeviceMetrics {
		t.Fatalf("settings = %+v, want includeDeviceMetrics", reply.Settings)
	}
}

func TestSyncTimeMalformedReplies(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantSettings bool
	}{
		{"not json", `<html>`, false},
		{"missing repliedTime", `{"receivedTime":1050,"settings":{"includeDeviceMetrics":true}}`, true},
		{"empty object", `{}`, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := newTestClient(t, func(writer http.ResponseWriter, _ *http.Request) {
				replyJSON(t, writer, test.body)
			}, nil)
			reply, err := client.SyncTime(context.Background(), "acme", "sports", "s1")
			if !errors.Is(err, analytics.ErrMalformedReply) {
				t.Fatalf("error = %v, want ErrMalformedReply", err)
			}
			if (reply.Settings != nil) != test.wantSettings {
				t.Fatalf("settings = %+v, wantSettings %v", reply.Settings, test.wantSettings)
			}
		})
	}
}

func TestSendBatchEncodings(t *testing.T) {
	batch := analytics.Batch{
		SessionID:    "s1",
		DispatchTime: 2000,
		ClockOffset:  125,
		Payload:      []analytics.Event{{Type: analytics.EventPaused, Timestamp: 1990}},
	}
	wantDigest, err := batch.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	for _, format := range []codec.Format{codec.FormatJSON, codec.FormatCBOR} {
		for _, compression := range []codec.Compression{codec.CompressionNone, codec.CompressionZstd, codec.CompressionLZ4} {
			t.Run(format.String()+"/"+compression.String(), func(t *testing.T) {
				client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
					if request.URL.Path != SendPath {
						t.Errorf("path = %s, want %s", request.URL.Path, SendPath)
					}
					if got := request.Header.Get(DigestHeader); got != wantDigest {
						t.Errorf("digest header = %q, want %q", got, wantDigest)
					}
					gotFormat, err := codec.FormatForContentType(request.Header.Get("Content-Type"))
					if err != nil || gotFormat != format {
						t.Errorf("content type %q: %v", request.Header.Get("Content-Type"), err)
					}
					gotCompression, err := codec.CompressionForContentEncoding(request.Header.Get("Content-Encoding"))
					if err != nil || gotCompression != compression {
						t.Errorf("content encoding %q: %v", request.Header.Get("Content-Encoding"), err)
					}

					raw, _ := io.ReadAll(request.Body)
					decoded, err := codec.Decompress(raw, compression, 1<<20)
					if err != nil {
						t.Errorf("Decompress: %v", err)
						return
					}
					var body map[string]any
					if err := format.Decode(decoded, &body); err != nil {
						t.Errorf("Decode: %v", err)
						return
					}
					if body["Customer"] != "acme" || body["BusinessUnit"] != "sports" || body["SessionId"] != "s1" {
						t.Errorf("send body = %v", body)
					}
					if payload, ok := body["Payload"].([]any); !ok || len(payload) != 1 {
						t.Errorf("Payload = %#v", body["Payload"])
					}
					writer.WriteHeader(http.StatusNoContent)
				}, func(config *Config) {
					config.Format = format
					config.Compression = compression
				})

				if err := client.SendBatch(context.Background(), "acme", "sports", batch); err != nil {
					t.Fatalf("SendBatch: %v", err)
				}
			})
		}
	}
}

func TestSendBatchErrors(t *testing.T) {
	tests := []struct {
		status           int
		wantUnauthorized bool
		wantRetryable    bool
		wantPermanent    bool
	}{
		{http.StatusUnauthorized, true, false, false},
		{http.StatusForbidden, true, false, false},
		{http.StatusBadRequest, false, false, true},
		{http.StatusRequestEntityTooLarge, false, false, true},
		{http.StatusTooManyRequests, false, true, false},
		{http.StatusServiceUnavailable, false, true, false},
	}
	for _, test := range tests {
		client := newTestClient(t, func(writer http.ResponseWriter, _ *http.Request) {
			http.Error(writer, "nope", test.status)
		}, nil)
		err := client.SendBatch(context.Background(), "acme", "sports", analytics.Batch{SessionID: "s1"})
		if err == nil {
			t.Fatalf("HTTP %d: SendBatch succeeded", test.status)
		}
		if errors.Is(err, ErrUnauthorized) != test.wantUnauthorized {
			t.Fatalf("HTTP %d: unauthorized = %v, want %v (%v)", test.status, errors.Is(err, ErrUnauthorized), test.wantUnauthorized, err)
		}
		if IsRetryable(err) != test.wantRetryable {
			t.Fatalf("HTTP %d: retryable = %v, want %v", test.status, IsRetryable(err), test.wantRetryable)
		}
		if IsPermanent(err) != test.wantPermanent {
			t.Fatalf("HTTP %d: permanent = %v, want %v", test.status, IsPermanent(err), test.wantPermanent)
		}
	}
}

func TestPostWithoutTokenSendsNothing(t *testing.T) {
	var requests atomic.Int32
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		requests.Add(1)
	}, func(config *Config) {
		config.Auth = NewStaticAuth(analytics.Credentials{Customer: "acme"})
	})

	if _, err := client.SyncTime(context.Background(), "acme", "", "s1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if requests.Load() != 0 {
		t.Fatalf("%d requests sent without a token", requests.Load())
	}
}
