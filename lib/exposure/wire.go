// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import "github.com/bureau-foundation/eventsink/lib/analytics"

// Endpoint paths, relative to the sink's base URL.
const (
	InitPath = "/eventsink/init"
	SendPath = "/eventsink/send"
)

// DigestHeader carries analytics.Batch.Digest on send requests. A
// collector that has already stored a batch with the same digest may
// acknowledge without storing it again.
const DigestHeader = "X-Batch-Digest"

// InitRequest is the body of an init call.
type InitRequest struct {
	Customer     string `json:"Customer"`
	BusinessUnit string `json:"BusinessUnit"`
	SessionID    string `json:"SessionId"`
}

// InitReply is the body of an init response. The timestamps are
// pointers so that a missing field is distinguishable from zero.
type InitReply struct {
	ReceivedTime *int64         `json:"receivedTime"`
	RepliedTime  *int64         `json:"repliedTime"`
	Settings     *ReplySettings `json:"settings,omitempty"`
}

// ReplySettings are collector switches delivered with the init reply.
type ReplySettings struct {
	IncludeDeviceMetrics bool `json:"includeDeviceMetrics"`
}

// SendRequest is the body of a send call: the batch plus the account
// it is reported under.
type SendRequest struct {
	Customer     string            `json:"Customer"`
	BusinessUnit string            `json:"BusinessUnit"`
	SessionID    string            `json:"SessionId"`
	DispatchTime int64             `json:"DispatchTime"`
	Payload      []analytics.Event `json:"Payload"`
	ClockOffset  int64             `json:"ClockOffset"`
}

func newSendRequest(customer, businessUnit string, batch analytics.Batch) SendRequest {
	return SendRequest{
		Customer:     customer,
		BusinessUnit: businessUnit,
		SessionID:    batch.SessionID,
		DispatchTime: batch.DispatchTime,
		Payload:      batch.Payload,
		ClockOffset:  batch.ClockOffset,
	}
}
