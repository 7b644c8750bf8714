// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exposure

import (
	"testing"

	"github.com/bureau-foundation/eventsink/lib/analytics"
)

func TestStaticAuth(t *testing.T) {
	auth := NewStaticAuth(analytics.Credentials{Customer: "acme", BusinessUnit: "sports"})
	if _, ok := auth.Credentials(); ok {
		t.Fatal("credentials without a token reported present")
	}
	auth.SetSessionToken("t1")
	credentials, ok := auth.Credentials()
	if !ok || credentials.SessionToken != "t1" || credentials.Customer != "acme" {
		t.Fatalf("credentials = %+v, %v", credentials, ok)
	}
}

func TestEnvAuth(t *testing.T) {
	auth := EnvAuth{Environment: map[string]string{
		"EVENTSINK_CUSTOMER":      "acme",
		"EVENTSINK_BUSINESS_UNIT": "sports",
		"EVENTSINK_SESSION_TOKEN": "from-env",
	}}
	credentials, ok := auth.Credentials()
	if !ok {
		t.Fatal("EnvAuth reported no credentials")
	}
	want := analytics.Credentials{Customer: "acme", BusinessUnit: "sports", SessionToken: "from-env"}
	if credentials != want {
		t.Fatalf("credentials = %+v, want %+v", credentials, want)
	}

	empty := EnvAuth{Environment: map[string]string{"EVENTSINK_CUSTOMER": "acme"}}
	if _, ok := empty.Credentials(); ok {
		t.Fatal("EnvAuth without a token reported credentials")
	}
}

func TestEnvAuthProcessEnvironment(t *testing.T) {
	t.Setenv("EVENTSINK_CUSTOMER", "acme")
	t.Setenv("EVENTSINK_BUSINESS_UNIT", "news")
	t.Setenv("EVENTSINK_SESSION_TOKEN", "process")

	credentials, ok := EnvAuth{}.Credentials()
	if !ok || credentials.BusinessUnit != "news" || credentials.SessionToken != "process" {
		t.Fatalf("credentials = %+v, %v", credentials, ok)
	}
}
