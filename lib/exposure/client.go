// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/eventsink/lib/analytics"
	"github.com/bureau-foundation/eventsink/lib/codec"
	"github.com/bureau-foundation/eventsink/lib/netutil"
	"github.com/bureau-foundation/eventsink/lib/version"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the sink's root URL, e.g. "https://sink.example.com/v2".
	// Required; http and https are accepted.
	BaseURL string

	// Auth supplies the bearer token. Required.
	Auth analytics.AuthProvider

	// Format is the request body encoding. Defaults to JSON.
	Format codec.Format

	// Compression is applied to request bodies. Defaults to none.
	Compression codec.Compression

	// HTTPClient defaults to http.DefaultClient. Timeouts are applied
	// per call through the context.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the event sink. It implements analytics.TimeSyncer
// and analytics.BatchSink. Safe for concurrent use.
type Client struct {
	baseURL     string
	auth        analytics.AuthProvider
	format      codec.Format
	compression codec.Compression
	httpClient  *http.Client
	logger      *slog.Logger
}

var (
	_ analytics.TimeSyncer = (*Client)(nil)
	_ analytics.BatchSink  = (*Client)(nil)
)

// NewClient creates a Client.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("exposure: BaseURL is required")
	}
	if !strings.HasPrefix(baseURL, "https://") && !strings.HasPrefix(baseURL, "http://") {
		return nil, fmt.Errorf("exposure: BaseURL must be http or https (got %q)", baseURL)
	}
	if config.Auth == nil {
		return nil, errors.New("exposure: Auth is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     baseURL,
		auth:        config.Auth,
		format:      config.Format,
		compression: config.Compression,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// SyncTime performs the init round trip. A reply that cannot be
// decoded, or lacks either timestamp, returns an error wrapping
// analytics.ErrMalformedReply; any settings it did carry are still
// returned.
func (client *Client) SyncTime(ctx context.Context, customer, businessUnit, sessionID string) (analytics.SyncReply, error) {
	body, err := client.post(ctx, InitPath, InitRequest{
		Customer:     customer,
		BusinessUnit: businessUnit,
		SessionID:    sessionID,
	}, nil)
	if err != nil {
		return analytics.SyncReply{}, err
	}

	var reply InitReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return analytics.SyncReply{}, fmt.Errorf("exposure: decoding init reply: %w: %v", analytics.ErrMalformedReply, err)
	}

	result := analytics.SyncReply{}
	if reply.Settings != nil {
		result.Settings = &analytics.SyncSettings{IncludeDeviceMetrics: reply.Settings.IncludeDeviceMetrics}
	}
	if reply.ReceivedTime == nil || reply.RepliedTime == nil {
		return result, fmt.Errorf("exposure: init reply without receivedTime or repliedTime: %w", analytics.ErrMalformedReply)
	}
	result.ReceivedTime = *reply.ReceivedTime
	result.RepliedTime = *reply.RepliedTime
	return result, nil
}

// SendBatch delivers one batch. A 2xx response is the acknowledgement;
// its body is ignored.
func (client *Client) SendBatch(ctx context.Context, customer, businessUnit string, batch analytics.Batch) error {
	digest, err := batch.Digest()
	if err != nil {
		return fmt.Errorf("exposure: computing batch digest: %w", err)
	}
	_, err = client.post(ctx, SendPath, newSendRequest(customer, businessUnit, batch), map[string]string{
		DigestHeader: digest,
	})
	return err
}

// post encodes requestBody, sends it, and returns the reply body of a
// 2xx response.
func (client *Client) post(ctx context.Context, path string, requestBody any, headers map[string]string) ([]byte, error) {
	credentials, ok := client.auth.Credentials()
	if !ok {
		return nil, fmt.Errorf("exposure: POST %s: no session token: %w", path, ErrUnauthorized)
	}

	encoded, err := client.format.Encode(requestBody)
	if err != nil {
		return nil, fmt.Errorf("exposure: encoding %s request: %w", path, err)
	}
	compressed, err := codec.Compress(encoded, client.compression)
	if err != nil {
		return nil, fmt.Errorf("exposure: compressing %s request: %w", path, err)
	}

	url := client.baseURL + path
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("exposure: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+credentials.SessionToken)
	request.Header.Set("Content-Type", client.format.ContentType())
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())
	if encoding := client.compression.ContentEncoding(); encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("exposure: POST %s: %w", url, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("exposure: POST %s: HTTP %d: %w", path, response.StatusCode, ErrUnauthorized)
	case response.StatusCode < 200 || response.StatusCode > 299:
		return nil, &APIError{StatusCode: response.StatusCode, Body: netutil.ErrorBody(response.Body)}
	}

	body, err := netutil.ReadLimited(response.Body, netutil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("exposure: reading %s reply: %w", path, err)
	}
	client.logger.Debug("event sink call",
		"path", path,
		"status", response.StatusCode,
		"request_bytes", len(compressed),
		"encoded_bytes", len(encoded),
	)
	return body, nil
}
