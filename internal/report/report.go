// Package report defines the host resource snapshot published to the
// broker and the single-slot store that hands the most recent snapshot
// from the sampling loop to its readers.
package report

import (
	"bytes"
	"math"

	"github.com/nugget/system-monitor/internal/units"
)

// Metric keys as they appear in the state payload and in discovery
// topic names.
const (
	RAMTotal  = "ram_total"
	RAMUsage  = "ram_usage"
	DiskTotal = "disk_total"
	DiskUsage = "disk_usage"
	CPUUsage  = "cpu_usage"
	NetworkRx = "network_rx"
	NetworkTx = "network_tx"
)

// Metrics returns every metric key in payload order.
func Metrics() []string {
	return []string{RAMTotal, RAMUsage, DiskTotal, DiskUsage, CPUUsage, NetworkRx, NetworkTx}
}

// Report is one complete snapshot of all sampled metrics. It is a plain
// value: copies share nothing, so a Report handed out by [Store] cannot
// be modified by a later update.
type Report struct {
	RAMTotal  units.Value
	RAMUsage  units.Value
	DiskTotal units.Value
	DiskUsage units.Value
	CPUUsage  units.Value
	NetworkRx units.Value
	NetworkTx units.Value
}

// Field is a single metric of a Report.
type Field struct {
	Key   string
	Value units.Value
}

// Fields returns the report's metrics in payload order.
func (r Report) Fields() []Field {
	return []Field{
		{RAMTotal, r.RAMTotal},
		{RAMUsage, r.RAMUsage},
		{DiskTotal, r.DiskTotal},
		{DiskUsage, r.DiskUsage},
		{CPUUsage, r.CPUUsage},
		{NetworkRx, r.NetworkRx},
		{NetworkTx, r.NetworkTx},
	}
}

// JSON renders the state payload: one object with a key per metric and
// each number printed with exactly its precision, e.g.
//
//	{"ram_total": 2.00, "ram_usage": 1.00, ...}
//
// encoding/json is not used because it drops trailing zeros.
func (r Report) JSON() []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('"')
		buf.WriteString(f.Key)
		buf.WriteString(`": `)
		v := f.Value
		if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
			v.Value = 0
		}
		buf.WriteString(v.Number())
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// MarshalJSON implements json.Marshaler using [Report.JSON].
func (r Report) MarshalJSON() ([]byte, error) {
	return r.JSON(), nil
}

// String returns the state payload as a string.
func (r Report) String() string {
	return string(r.JSON())
}
