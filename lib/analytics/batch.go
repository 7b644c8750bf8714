// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import "github.com/bureau-foundation/eventsink/lib/codec"

// Batch is the set of one session's buffered events sent in a single
// sink call. The transport adds Customer and BusinessUnit.
type Batch struct {
	SessionID string `json:"SessionId"`

	// DispatchTime is the local clock in Unix milliseconds when the
	// batch was composed.
	DispatchTime int64 `json:"DispatchTime"`

	// Payload is the session's events in recording order.
	Payload []Event `json:"Payload"`

	// ClockOffset is the session's estimated local-minus-server clock
	// difference in milliseconds; 0 until a sync has succeeded.
	ClockOffset int64 `json:"ClockOffset"`
}

// digestInput excludes DispatchTime and ClockOffset so that a batch
// resent after a failure keeps its digest.
type digestInput struct {
	SessionID string  `json:"SessionId"`
	Payload   []Event `json:"Payload"`
}

// Digest identifies the batch's content. Two sends of the same events
// for the same session share a digest, which lets a collector drop the
// duplicate when an acknowledgement was lost.
func (b Batch) Digest() (string, error) {
	return codec.Digest(digestInput{SessionID: b.SessionID, Payload: b.Payload})
}
