// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body reads for the event sink
// transport and collector.
//
// Sink replies are a few hundred bytes and batch requests a few
// hundred kilobytes, so every read is capped. A misbehaving peer gets
// an error instead of an unbounded allocation.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize bounds reads of event sink replies: 1 MB.
const MaxResponseSize int64 = 1 << 20

// MaxRequestSize bounds reads of batch request bodies on the
// collector side: 16 MB, before decompression.
const MaxRequestSize int64 = 16 << 20

// ReadLimited reads body up to limit bytes and fails if the body is
// longer.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

// ErrorBody returns an error reply body for use in error messages.
// Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
