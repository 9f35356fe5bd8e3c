package sysinfo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/system-monitor/internal/events"
	"github.com/nugget/system-monitor/internal/report"
	"github.com/nugget/system-monitor/internal/units"
)

// fakeProvider returns canned readings. Network counters are consumed
// in order; the last entry repeats.
type fakeProvider struct {
	mu        sync.Mutex
	mem       MemoryStat
	memErr    error
	disks     []DiskStat
	diskErr   error
	cpu       float64
	cpuErr    error
	net       []NetCounters
	netErr    error
	supported bool
}

func (f *fakeProvider) Memory(context.Context) (MemoryStat, error)  { return f.mem, f.memErr }
func (f *fakeProvider) Disks(context.Context) ([]DiskStat, error)   { return f.disks, f.diskErr }
func (f *fakeProvider) CPUPercent(context.Context) (float64, error) { return f.cpu, f.cpuErr }
func (f *fakeProvider) Supported() bool                             { return f.supported }

func (f *fakeProvider) NetCounters(context.Context) (NetCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.netErr != nil {
		return NetCounters{}, f.netErr
	}
	if len(f.net) == 0 {
		return NetCounters{}, nil
	}
	c := f.net[0]
	if len(f.net) > 1 {
		f.net = f.net[1:]
	}
	return c, nil
}

// stepClock returns successive times from a fixed list.
func stepClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return t
	}
}

var gbUnits = Units{
	Memory:    units.Gigabyte,
	Storage:   units.Gigabyte,
	Network:   units.Kilobyte,
	Precision: 2,
}

func TestRate(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur uint64
		elapsed   time.Duration
		want      float64
	}{
		{"steady", 1000, 3000, 2 * time.Second, 1000},
		{"fractional interval", 0, 500, 500 * time.Millisecond, 1000},
		{"no change", 42, 42, time.Second, 0},
		{"zero elapsed", 0, 5000, 0, 0},
		{"negative elapsed", 0, 5000, -time.Second, 0},
		{"counter reset", 9000, 100, time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rate(tt.prev, tt.cur, tt.elapsed))
		})
	}
}

func TestAggregateDisks_DedupByTotal(t *testing.T) {
	disks := []DiskStat{
		{Mountpoint: "/", Total: 100, Used: 40},
		{Mountpoint: "/var/lib/docker", Total: 100, Used: 40},
		{Mountpoint: "/data", Total: 200, Used: 50},
	}

	unique := UniqueDisks(disks)
	require.Len(t, unique, 2)
	assert.Equal(t, uint64(100), unique[0].Total)
	assert.Equal(t, uint64(200), unique[1].Total)

	total, used := AggregateDisks(disks)
	assert.Equal(t, uint64(300), total)
	assert.Equal(t, uint64(90), used)
}

func TestAggregateDisks_LastAliasWins(t *testing.T) {
	disks := []DiskStat{
		{Mountpoint: "/a", Total: 100, Used: 10},
		{Mountpoint: "/b", Total: 100, Used: 30},
	}
	total, used := AggregateDisks(disks)
	assert.Equal(t, uint64(100), total)
	assert.Equal(t, uint64(30), used)
}

func TestAggregateDisks_Empty(t *testing.T) {
	total, used := AggregateDisks(nil)
	assert.Zero(t, total)
	assert.Zero(t, used)
}

func TestSampler_GigabyteScenario(t *testing.T) {
	p := &fakeProvider{
		mem:       MemoryStat{Total: 1 << 31, Used: 1 << 30},
		supported: true,
	}
	s := NewSampler(p, gbUnits, nil)

	r := s.Sample(context.Background())
	assert.Equal(t, 2.0, r.RAMTotal.Value)
	assert.Equal(t, "GB", r.RAMTotal.Unit)
	assert.Equal(t, 1.0, r.RAMUsage.Value)

	payload := r.String()
	assert.Contains(t, payload, `"ram_total": 2.00`)
	assert.Contains(t, payload, `"ram_usage": 1.00`)
}

func TestSampler_NetworkRates(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		net: []NetCounters{
			{BytesRecv: 10_000, BytesSent: 2_000},
			{BytesRecv: 30_480, BytesSent: 6_096},
		},
	}
	s := NewSampler(p, gbUnits, nil)
	// Each Sample reads the clock twice: once for the rate and once
	// for the status timestamp.
	s.now = stepClock(t0, t0, t0.Add(2*time.Second), t0.Add(2*time.Second))

	first := s.Sample(context.Background())
	assert.Zero(t, first.NetworkRx.Value, "first sample has no previous counters")
	assert.Zero(t, first.NetworkTx.Value)

	second := s.Sample(context.Background())
	// (30480-10000)/2 = 10240 B/s = 10 KB/s; (6096-2000)/2 = 2048 B/s = 2 KB/s
	assert.Equal(t, 10.0, second.NetworkRx.Value)
	assert.Equal(t, 2.0, second.NetworkTx.Value)
	assert.Equal(t, "KB/s", second.NetworkRx.Unit)
}

func TestSampler_NetworkZeroElapsed(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		net: []NetCounters{
			{BytesRecv: 0, BytesSent: 0},
			{BytesRecv: 1 << 20, BytesSent: 1 << 20},
		},
	}
	s := NewSampler(p, gbUnits, nil)
	s.now = stepClock(t0)

	s.Sample(context.Background())
	r := s.Sample(context.Background())
	assert.Zero(t, r.NetworkRx.Value)
	assert.Zero(t, r.NetworkTx.Value)
}

func TestSampler_FailuresFallBackToZero(t *testing.T) {
	boom := errors.New("boom")
	p := &fakeProvider{
		memErr:  boom,
		diskErr: boom,
		cpuErr:  boom,
		netErr:  boom,
	}
	s := NewSampler(p, gbUnits, nil)

	r := s.Sample(context.Background())
	for _, f := range r.Fields() {
		assert.Zero(t, f.Value.Value, "field %s", f.Key)
		assert.NotEmpty(t, f.Value.Unit, "field %s", f.Key)
		assert.Equal(t, uint(2), f.Value.Precision, "field %s", f.Key)
	}

	st := s.Status()
	assert.True(t, st.Ready)
	assert.Contains(t, st.LastError, "boom")
}

func TestSampler_DiskAndCPU(t *testing.T) {
	p := &fakeProvider{
		disks: []DiskStat{
			{Mountpoint: "/", Total: 100 << 30, Used: 25 << 30},
			{Mountpoint: "/snap", Total: 100 << 30, Used: 25 << 30},
			{Mountpoint: "/home", Total: 200 << 30, Used: 50 << 30},
		},
		cpu: 37.456,
	}
	s := NewSampler(p, gbUnits, nil)

	r := s.Sample(context.Background())
	assert.Equal(t, 300.0, r.DiskTotal.Value)
	assert.Equal(t, 75.0, r.DiskUsage.Value)
	assert.Equal(t, 37.46, r.CPUUsage.Value)
	assert.Equal(t, "%", r.CPUUsage.Unit)
}

func TestSampler_CheckSupport(t *testing.T) {
	assert.True(t, NewSampler(&fakeProvider{supported: true}, gbUnits, nil).CheckSupport())
	assert.False(t, NewSampler(&fakeProvider{supported: false}, gbUnits, nil).CheckSupport())
}

func TestSampler_StatusBeforeFirstSample(t *testing.T) {
	s := NewSampler(&fakeProvider{}, gbUnits, nil)
	st := s.Status()
	assert.False(t, st.Ready)
	assert.Equal(t, "sampler", st.Name)
}

func TestSampler_RunFillsStore(t *testing.T) {
	p := &fakeProvider{mem: MemoryStat{Total: 1 << 31, Used: 1 << 30}}
	s := NewSampler(p, gbUnits, nil)
	store := report.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour, store) }()

	require.Eventually(t, store.HasReport, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	e, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Report.RAMTotal.Value)
}

func TestSampler_RunEmitsSampleEvents(t *testing.T) {
	p := &fakeProvider{cpuErr: errors.New("no cpu")}
	s := NewSampler(p, gbUnits, nil)
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)
	s.SetEventBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour, report.NewStore()) }()

	select {
	case e := <-ch:
		assert.Equal(t, events.SourceSampler, e.Source)
		assert.Equal(t, events.KindSample, e.Kind)
		assert.Contains(t, e.Data["errors"], "no cpu")
	case <-time.After(time.Second):
		t.Fatal("no sample event")
	}
	cancel()
	require.NoError(t, <-done)
}
