// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package device

// isRooted is always false where there is no su convention.
func isRooted(string) bool { return false }
