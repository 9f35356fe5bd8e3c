package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// supportedOS lists the platforms where gopsutil implements every
// reading the sampler needs.
var supportedOS = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"windows": true,
	"freebsd": true,
	"openbsd": true,
	"solaris": true,
	"aix":     true,
}

// GopsutilProvider reads host metrics through gopsutil.
type GopsutilProvider struct{}

// NewGopsutilProvider returns the production provider.
func NewGopsutilProvider() *GopsutilProvider {
	return &GopsutilProvider{}
}

// Supported implements [Provider].
func (p *GopsutilProvider) Supported() bool {
	return supportedOS[runtime.GOOS]
}

// Memory implements [Provider].
func (p *GopsutilProvider) Memory(ctx context.Context) (MemoryStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStat{}, fmt.Errorf("read virtual memory: %w", err)
	}
	return MemoryStat{Total: vm.Total, Used: vm.Used}, nil
}

// Disks implements [Provider]. Only physical partitions are listed.
// Partitions whose usage cannot be read are skipped; an error is
// returned only when nothing could be read at all.
func (p *GopsutilProvider) Disks(ctx context.Context) ([]DiskStat, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var (
		stats []DiskStat
		errs  []error
	)
	for _, part := range parts {
		u, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("usage %s: %w", part.Mountpoint, err))
			continue
		}
		if u.Total == 0 {
			continue
		}
		// Used counts reserved blocks too, matching total minus space
		// available to unprivileged users.
		used := uint64(0)
		if u.Total > u.Free {
			used = u.Total - u.Free
		}
		stats = append(stats, DiskStat{
			Mountpoint: part.Mountpoint,
			Total:      u.Total,
			Used:       used,
		})
	}

	if len(stats) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return stats, nil
}

// CPUPercent implements [Provider]. It reports overall utilization
// since the previous call without blocking.
func (p *GopsutilProvider) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, errors.New("read cpu percent: no data")
	}
	return pct[0], nil
}

// NetCounters implements [Provider].
func (p *GopsutilProvider) NetCounters(ctx context.Context) (NetCounters, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return NetCounters{}, fmt.Errorf("read network counters: %w", err)
	}
	if len(counters) == 0 {
		return NetCounters{}, errors.New("read network counters: no interfaces")
	}
	return NetCounters{
		BytesRecv: counters[0].BytesRecv,
		BytesSent: counters[0].BytesSent,
	}, nil
}
