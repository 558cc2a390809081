// Package sysinfo reports read-only facts about the host for the interface
// layer.
package sysinfo

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is the getSystemInfo payload. The first four fields are always set;
// the rest are filled when the host exposes them.
type Info struct {
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
	RuntimeVersion string `json:"runtime_version"`
	HostVersion    string `json:"host_version"`

	OS              string `json:"os,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	CPUs            int    `json:"cpus,omitempty"`
	MemoryTotalMB   uint64 `json:"memory_total_mb,omitempty"`
}

// Collect gathers Info. hostVersion is the version of the hosting
// application. gopsutil failures only leave the optional fields empty.
func Collect(ctx context.Context, hostVersion string) Info {
	info := Info{
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		RuntimeVersion: runtime.Version(),
		HostVersion:    hostVersion,
	}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.OS = hi.OS
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
	} else {
		slog.Debug("host info unavailable", "error", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	return info
}
