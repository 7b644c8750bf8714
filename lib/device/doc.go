// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package device identifies the machine the tracker runs on. The
// result fills the Playback.DeviceInfo event appended to every new
// session.
//
// Identification never fails: a field that cannot be determined is
// left empty. A container with no DMI data and no host ID is a valid
// device that still reports its OS.
package device
