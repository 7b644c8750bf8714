// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so that tests waiting on a fake sink or a background
// goroutine fail with a message instead of hanging. They are the only
// place tests use real wall-clock timeouts; everything else runs on
// clock.Fake.
//
// All helpers call t.Fatalf on failure.
package testutil
