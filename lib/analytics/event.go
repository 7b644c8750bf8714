// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"encoding/json"
	"maps"

	"github.com/bureau-foundation/eventsink/lib/codec"
)

// Event types understood by the event sink.
const (
	EventCreated          = "Playback.Created"
	EventPlayerReady      = "Playback.PlayerReady"
	EventHandshakeStarted = "Playback.HandshakeStarted"
	EventStarted          = "Playback.Started"
	EventPaused           = "Playback.Paused"
	EventResumed          = "Playback.Resumed"
	EventScrubbedTo       = "Playback.ScrubbedTo"
	EventBitrateChanged   = "Playback.BitrateChanged"
	EventStartCasting     = "Playback.StartCasting"
	EventStopCasting      = "Playback.StopCasting"
	EventBufferingStarted = "Playback.BufferingStarted"
	EventBufferingEnded   = "Playback.BufferingEnded"
	EventError            = "Playback.Error"
	EventCompleted        = "Playback.Completed"
	EventAborted          = "Playback.Aborted"
	EventHeartbeat        = "Playback.Heartbeat"
	EventDeviceInfo       = "Playback.DeviceInfo"
)

// Reserved field names. Caller parameters never replace these.
const (
	fieldEventType  = "EventType"
	fieldTimestamp  = "Timestamp"
	fieldOffsetTime = "OffsetTime"
	fieldAttributes = "Attributes"
)

// Event is one buffered telemetry record. It is immutable once
// appended to a session; the order of a session's events is the order
// the sink receives them.
//
// On the wire an event is a flat object: the reserved fields plus
// every entry in Properties.
type Event struct {
	// Type is one of the Event* constants, or a caller-defined type
	// recorded through Tracker.Record.
	Type string

	// Timestamp is the local clock in Unix milliseconds when the event
	// was recorded. The batch's ClockOffset reinterprets it.
	Timestamp int64

	// OffsetTime is the playback position in milliseconds, stamped
	// from the session for operations that report one.
	OffsetTime *int64

	// Attributes is the snapshot of custom attributes carried by
	// Playback.Started. Nil for every other event.
	Attributes map[string]string

	// Properties holds caller parameters and, for device info, the
	// device identity fields.
	Properties map[string]any
}

// newEvent builds an event from caller parameters. The parameters map
// is copied.
func newEvent(eventType string, timestamp int64, params map[string]string) Event {
	event := Event{Type: eventType, Timestamp: timestamp}
	if len(params) > 0 {
		event.Properties = make(map[string]any, len(params))
		for key, value := range params {
			event.Properties[key] = value
		}
	}
	return event
}

// deviceInfoEvent builds the synthetic event appended once when a
// session is created.
func deviceInfoEvent(timestamp int64, device DeviceInfo) Event {
	return Event{
		Type:      EventDeviceInfo,
		Timestamp: timestamp,
		Properties: map[string]any{
			"DeviceId":     device.DeviceID,
			"DeviceModel":  device.Model,
			"OS":           device.OS,
			"OSVersion":    device.OSVersion,
			"Manufacturer": device.Manufacturer,
			"IsRooted":     device.IsRooted,
		},
	}
}

// withOffset returns a copy of e stamped with a playback position.
func (e Event) withOffset(position int64) Event {
	e.OffsetTime = &position
	return e
}

// Fields returns the flat wire representation of the event.
func (e Event) Fields() map[string]any {
	fields := make(map[string]any, len(e.Properties)+4)
	maps.Copy(fields, e.Properties)
	fields[fieldEventType] = e.Type
	fields[fieldTimestamp] = e.Timestamp
	if e.OffsetTime != nil {
		fields[fieldOffsetTime] = *e.OffsetTime
	} else {
		delete(fields, fieldOffsetTime)
	}
	if e.Attributes != nil {
		fields[fieldAttributes] = e.Attributes
	} else {
		delete(fields, fieldAttributes)
	}
	return fields
}

// MarshalJSON encodes the flat wire representation.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields())
}

// MarshalCBOR encodes the flat wire representation with deterministic
// CBOR, so digests of equal events match.
func (e Event) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(e.Fields())
}
