// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the event
// sink engine and the reference collector.
//
// Configuration is loaded from a single file specified by either the
// EVENTSINK_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic file search.
//
// The file supports environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production validation is stricter:
// the sink URL must be https and the collector must require a token.
//
// Credentials are never read from the file. The sink account comes
// from the environment through exposure.EnvAuth; the collector token
// is normally written as ${EVENTSINK_COLLECTOR_TOKEN} and expanded
// after loading, as are exposure.base_url and collector.listen_address.
//
// Key exports:
//
//   - [Config] -- master struct with Exposure, Scheduler, Retry, Dispatch, Collector
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.TrackerOptions], [Config.ExposureClientConfig] -- conversions for the engine
package config
