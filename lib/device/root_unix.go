// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package device

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// suPaths are where rooting tools install their su binary or manager
// package. Their presence marks a rooted device.
var suPaths = []string{
	"system/app/Superuser.apk",
	"system/xbin/su",
	"system/bin/su",
	"system/sd/xbin/su",
	"system/bin/failsafe/su",
	"sbin/su",
	"data/local/su",
	"data/local/xbin/su",
	"data/local/bin/su",
}

// isRooted reports whether the process runs with effective UID 0 or a
// rooting tool is installed under root.
func isRooted(root string) bool {
	if unix.Geteuid() == 0 {
		return true
	}
	return hasSuBinary(root)
}

func hasSuBinary(root string) bool {
	for _, path := range suPaths {
		if unix.Access(filepath.Join(root, path), unix.F_OK) == nil {
			return true
		}
	}
	return false
}
