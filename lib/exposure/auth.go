// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import (
	"sync"

	"github.com/caarlos0/env/v11"

	"github.com/bureau-foundation/eventsink/lib/analytics"
)

// StaticAuth holds credentials set by the caller. The session token
// may be replaced at any time, for example after a login refresh.
type StaticAuth struct {
	mu          sync.RWMutex
	credentials analytics.Credentials
}

// NewStaticAuth creates a StaticAuth.
func NewStaticAuth(credentials analytics.Credentials) *StaticAuth {
	return &StaticAuth{credentials: credentials}
}

// Credentials returns the credentials and whether a session token is
// set.
func (a *StaticAuth) Credentials() (analytics.Credentials, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.credentials, a.credentials.SessionToken != ""
}

// SetSessionToken replaces the session token. An empty token
// suspends all network activity until a new one is set.
func (a *StaticAuth) SetSessionToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credentials.SessionToken = token
}

type envCredentials struct {
	Customer     string `env:"EVENTSINK_CUSTOMER"`
	BusinessUnit string `env:"EVENTSINK_BUSINESS_UNIT"`
	SessionToken string `env:"EVENTSINK_SESSION_TOKEN"`
}

// EnvAuth reads EVENTSINK_CUSTOMER, EVENTSINK_BUSINESS_UNIT, and
// EVENTSINK_SESSION_TOKEN on every call, so a token exported after
// start-up is picked up at the next dispatch.
type EnvAuth struct {
	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// Credentials parses the environment. A missing token reports false.
func (a EnvAuth) Credentials() (analytics.Credentials, bool) {
	var parsed envCredentials
	if err := env.ParseWithOptions(&parsed, env.Options{Environment: a.Environment}); err != nil {
		return analytics.Credentials{}, false
	}
	credentials := analytics.Credentials{
		Customer:     parsed.Customer,
		BusinessUnit: parsed.BusinessUnit,
		SessionToken: parsed.SessionToken,
	}
	return credentials, credentials.SessionToken != ""
}
