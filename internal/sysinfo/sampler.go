package sysinfo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/system-monitor/internal/connwatch"
	"github.com/nugget/system-monitor/internal/events"
	"github.com/nugget/system-monitor/internal/report"
	"github.com/nugget/system-monitor/internal/units"
)

// Units selects the display unit for each metric category.
type Units struct {
	Memory    units.ByteUnit
	Storage   units.ByteUnit
	Network   units.ByteUnit
	Precision uint
}

// Sampler produces one complete [report.Report] per call to
// [Sampler.Sample]. It keeps the previous network counters between
// calls to derive throughput, so a Sampler must be driven by a single
// goroutine.
type Sampler struct {
	provider Provider
	units    Units
	logger   *slog.Logger
	events   *events.Bus
	now      func() time.Time

	// Rate state, touched only by Sample.
	prevNet  NetCounters
	prevTime time.Time
	havePrev bool

	mu         sync.Mutex
	lastSample time.Time
	lastErr    error
}

// NewSampler creates a Sampler reading from provider.
func NewSampler(provider Provider, u Units, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		provider: provider,
		units:    u,
		logger:   logger,
		now:      time.Now,
	}
}

// SetEventBus publishes a sample event after every stored report.
func (s *Sampler) SetEventBus(b *events.Bus) {
	s.events = b
}

// CheckSupport reports whether the provider supports this host. It is
// meant to be called once at startup.
func (s *Sampler) CheckSupport() bool {
	return s.provider.Supported()
}

// Sample reads every metric and returns a complete report. A metric
// that cannot be read is logged and reported as zero.
func (s *Sampler) Sample(ctx context.Context) report.Report {
	var errs []error
	p := s.units.Precision

	memStat, err := s.provider.Memory(ctx)
	if err != nil {
		s.logger.Warn("memory sample failed", "error", err)
		errs = append(errs, err)
		memStat = MemoryStat{}
	}

	disks, err := s.provider.Disks(ctx)
	if err != nil {
		s.logger.Warn("disk sample failed", "error", err)
		errs = append(errs, err)
		disks = nil
	}
	diskTotal, diskUsed := AggregateDisks(disks)

	cpuPct, err := s.provider.CPUPercent(ctx)
	if err != nil {
		s.logger.Warn("cpu sample failed", "error", err)
		errs = append(errs, err)
		cpuPct = 0
	}

	rx, tx, err := s.networkRates(ctx)
	if err != nil {
		s.logger.Warn("network sample failed", "error", err)
		errs = append(errs, err)
	}

	r := report.Report{
		RAMTotal:  units.Format(float64(memStat.Total), s.units.Memory, p),
		RAMUsage:  units.Format(float64(memStat.Used), s.units.Memory, p),
		DiskTotal: units.Format(float64(diskTotal), s.units.Storage, p),
		DiskUsage: units.Format(float64(diskUsed), s.units.Storage, p),
		CPUUsage:  units.Percent(cpuPct, p),
		NetworkRx: units.FormatRate(rx, s.units.Network, p),
		NetworkTx: units.FormatRate(tx, s.units.Network, p),
	}

	s.mu.Lock()
	s.lastSample = s.now()
	s.lastErr = errors.Join(errs...)
	s.mu.Unlock()

	s.logger.Debug("system sampled",
		"ram_usage", r.RAMUsage.String(),
		"disk_usage", r.DiskUsage.String(),
		"cpu_usage", r.CPUUsage.String(),
		"network_rx", r.NetworkRx.String(),
		"network_tx", r.NetworkTx.String(),
	)
	return r
}

// networkRates returns receive and transmit rates in bytes per second
// since the previous successful reading. The first reading yields zero.
func (s *Sampler) networkRates(ctx context.Context) (rx, tx float64, err error) {
	counters, err := s.provider.NetCounters(ctx)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()

	if s.havePrev {
		elapsed := now.Sub(s.prevTime)
		rx = Rate(s.prevNet.BytesRecv, counters.BytesRecv, elapsed)
		tx = Rate(s.prevNet.BytesSent, counters.BytesSent, elapsed)
	}

	s.prevNet = counters
	s.prevTime = now
	s.havePrev = true
	return rx, tx, nil
}

// Rate is the per-second change between two cumulative counters. It is
// zero when no time has passed (or the clock went backwards) and when
// the counter went down, which happens on interface reset or wrap.
func Rate(prev, cur uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsed.Seconds()
}

// UniqueDisks drops disks whose total capacity matches one already
// seen, keeping the last. Bind mounts and aliased filesystems report
// the same capacity, so this folds them together. Two distinct disks of
// exactly the same size are folded too; that undercount is accepted.
func UniqueDisks(disks []DiskStat) []DiskStat {
	byTotal := make(map[uint64]int, len(disks))
	var out []DiskStat
	for _, d := range disks {
		if i, ok := byTotal[d.Total]; ok {
			out[i] = d
			continue
		}
		byTotal[d.Total] = len(out)
		out = append(out, d)
	}
	return out
}

// AggregateDisks sums capacity and usage over [UniqueDisks].
func AggregateDisks(disks []DiskStat) (total, used uint64) {
	for _, d := range UniqueDisks(disks) {
		total += d.Total
		used += d.Used
	}
	return total, used
}

// Run samples immediately and then every interval, storing each report
// in store, until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, store *report.Store) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sampleInto(ctx, store)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sampleInto(ctx, store)
		}
	}
}

func (s *Sampler) sampleInto(ctx context.Context, store *report.Store) {
	start := time.Now()
	store.Update(s.Sample(ctx))

	data := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	if st := s.Status(); st.LastError != "" {
		data["errors"] = st.LastError
	}
	s.events.Emit(events.SourceSampler, events.KindSample, data)
}

// Status reports when the last sample was taken and whether any metric
// failed in it.
func (s *Sampler) Status() connwatch.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := connwatch.ServiceStatus{
		Name:      "sampler",
		Ready:     !s.lastSample.IsZero(),
		LastCheck: s.lastSample,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
