// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/bureau-foundation/eventsink/lib/analytics"
)

// probeTimeout bounds host.Info, which shells out on some platforms.
const probeTimeout = 5 * time.Second

// Identifier probes the host once and caches the result. It
// implements analytics.DeviceIdentifier.
type Identifier struct {
	// root is prepended to every filesystem path probed, so tests can
	// point at a synthetic tree.
	root     string
	hostInfo func(context.Context) (*host.InfoStat, error)
	rooted   func(root string) bool

	once sync.Once
	info analytics.DeviceInfo
}

var _ analytics.DeviceIdentifier = (*Identifier)(nil)

// NewIdentifier creates an Identifier for the running host.
func NewIdentifier() *Identifier {
	return &Identifier{
		root:     "/",
		hostInfo: host.InfoWithContext,
		rooted:   isRooted,
	}
}

// Identify returns the device identity, probing on the first call.
func (identifier *Identifier) Identify() analytics.DeviceInfo {
	identifier.once.Do(func() {
		identifier.info = identifier.probe()
	})
	return identifier.info
}

func (identifier *Identifier) probe() analytics.DeviceInfo {
	info := analytics.DeviceInfo{
		OS:           runtime.GOOS,
		Manufacturer: ReadSysfsString(filepath.Join(identifier.root, "sys/class/dmi/id/sys_vendor")),
		Model:        ReadSysfsString(filepath.Join(identifier.root, "sys/class/dmi/id/product_name")),
		IsRooted:     identifier.rooted(identifier.root),
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if stat, err := identifier.hostInfo(ctx); err == nil && stat != nil {
		info.DeviceID = stat.HostID
		if stat.Platform != "" {
			info.OS = stat.Platform
		}
		info.OSVersion = stat.PlatformVersion
		if info.OSVersion == "" {
			info.OSVersion = stat.KernelVersion
		}
		if info.DeviceID == "" {
			info.DeviceID = stat.Hostname
		}
	}

	if info.DeviceID == "" {
		info.DeviceID = ReadSysfsString(filepath.Join(identifier.root, "etc/machine-id"))
	}
	if info.DeviceID == "" {
		info.DeviceID, _ = os.Hostname()
	}
	return info
}

// ReadSysfsString reads a single-line file and returns its trimmed
// content. Returns "" on any error.
func ReadSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
