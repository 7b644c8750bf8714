// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Eventsink-replay plays a JSONC playback script through the telemetry
// engine against a live event sink, in real time. The sink account is
// read from EVENTSINK_CUSTOMER, EVENTSINK_BUSINESS_UNIT, and
// EVENTSINK_SESSION_TOKEN.
package main
