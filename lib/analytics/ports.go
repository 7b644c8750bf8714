// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"errors"
)

// Credentials identify the account batches are reported under.
type Credentials struct {
	Customer     string
	BusinessUnit string
	SessionToken string
}

// AuthProvider supplies the current credentials. Credentials returns
// false when there is no session token; the dispatcher and the clock
// synchronizer then skip their network call entirely. Nothing is
// queued for later.
type AuthProvider interface {
	Credentials() (Credentials, bool)
}

// SyncReply carries the two server timestamps of an init round trip,
// in server-clock Unix milliseconds.
type SyncReply struct {
	// ReceivedTime is when the server received the request.
	ReceivedTime int64

	// RepliedTime is when the server composed the reply.
	RepliedTime int64

	// Settings is nil when the reply had no settings object.
	Settings *SyncSettings
}

// SyncSettings are collector-side switches delivered with the init
// reply.
type SyncSettings struct {
	IncludeDeviceMetrics bool
}

// ErrMalformedReply is wrapped by TimeSyncer implementations when the
// reply arrived but could not be parsed or lacked a timestamp.
var ErrMalformedReply = errors.New("malformed sync reply")

// TimeSyncer performs the clock synchronization round trip.
type TimeSyncer interface {
	SyncTime(ctx context.Context, customer, businessUnit, sessionID string) (SyncReply, error)
}

// BatchSink delivers a batch. A nil error is the acknowledgement.
type BatchSink interface {
	SendBatch(ctx context.Context, customer, businessUnit string, batch Batch) error
}

// DeviceInfo is the device identity appended to every new session.
type DeviceInfo struct {
	DeviceID     string
	Model        string
	OS           string
	OSVersion    string
	Manufacturer string
	IsRooted     bool
}

// DeviceIdentifier supplies the device identity snapshot. The tracker
// calls it at most once.
type DeviceIdentifier interface {
	Identify() DeviceInfo
}
