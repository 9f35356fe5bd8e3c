// Package sysinfo samples host resource usage and turns it into
// [report.Report] snapshots. Raw readings come from a [Provider]; the
// production provider is backed by gopsutil.
package sysinfo

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned at startup when the metrics
// provider cannot run on the host operating system.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// MemoryStat is physical memory in bytes.
type MemoryStat struct {
	Total uint64
	Used  uint64
}

// DiskStat is one mounted filesystem in bytes.
type DiskStat struct {
	Mountpoint string
	Total      uint64
	Used       uint64
}

// NetCounters are cumulative byte counters summed over all interfaces.
type NetCounters struct {
	BytesRecv uint64
	BytesSent uint64
}

// Provider reads raw resource figures from the operating system.
// Implementations must be safe to call from a single goroutine at a
// time; [Sampler] never calls them concurrently.
type Provider interface {
	Memory(ctx context.Context) (MemoryStat, error)
	Disks(ctx context.Context) ([]DiskStat, error)
	CPUPercent(ctx context.Context) (float64, error)
	NetCounters(ctx context.Context) (NetCounters, error)
	// Supported reports whether the provider works on this platform.
	Supported() bool
}
