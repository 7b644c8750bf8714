// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the event
// sink binaries. Values are injected at build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/eventsink/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
