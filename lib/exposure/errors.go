// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is wrapped when the sink rejects the session token
// (HTTP 401 or 403).
var ErrUnauthorized = errors.New("event sink rejected credentials")

// APIError is any other non-2xx response from the sink.
type APIError struct {
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string
}

func (err *APIError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("exposure: HTTP %d", err.StatusCode)
	}
	return fmt.Sprintf("exposure: HTTP %d: %s", err.StatusCode, err.Body)
}

// IsRetryable reports whether err is a response the sink may accept
// on a later attempt: 408, 429, or any 5xx.
func IsRetryable(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == 408 || apiError.StatusCode == 429 || apiError.StatusCode >= 500
}

// IsPermanent reports whether err is a sink response that no resend of
// the same batch will fix: any other 4xx, such as 400 or 413. Transport
// failures and rejected credentials are not permanent.
func IsPermanent(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode >= 400 && apiError.StatusCode < 500 && !IsRetryable(err)
}
