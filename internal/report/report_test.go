package report

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/system-monitor/internal/units"
)

func TestReport_JSON_GigabyteScenario(t *testing.T) {
	r := Report{
		RAMTotal: units.Format(float64(uint64(1)<<31), units.Gigabyte, 2),
		RAMUsage: units.Format(float64(uint64(1)<<30), units.Gigabyte, 2),
	}

	payload := r.String()
	assert.Contains(t, payload, `"ram_total": 2.00`)
	assert.Contains(t, payload, `"ram_usage": 1.00`)
	assert.True(t, json.Valid(r.JSON()), "payload is not valid JSON: %s", payload)
}

func TestReport_JSON_AllKeysInOrder(t *testing.T) {
	r := Report{CPUUsage: units.Percent(42.123, 1)}
	payload := r.String()

	last := -1
	for _, key := range Metrics() {
		idx := strings.Index(payload, `"`+key+`"`)
		require.NotEqual(t, -1, idx, "missing key %q in %s", key, payload)
		assert.Greater(t, idx, last, "key %q out of order", key)
		last = idx
	}
	assert.Contains(t, payload, `"cpu_usage": 42.1`)

	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(r.JSON(), &decoded))
	assert.Len(t, decoded, len(Metrics()))
}

func TestReport_JSON_NonFiniteBecomesZero(t *testing.T) {
	r := Report{
		NetworkRx: units.Value{Value: math.Inf(1), Unit: "MB/s", Precision: 2},
		NetworkTx: units.Value{Value: math.NaN(), Unit: "MB/s", Precision: 2},
	}
	payload := r.String()
	assert.Contains(t, payload, `"network_rx": 0.00`)
	assert.Contains(t, payload, `"network_tx": 0.00`)
	assert.True(t, json.Valid(r.JSON()))
}

func TestReport_MarshalJSON_Nested(t *testing.T) {
	wrapper := struct {
		Report Report `json:"report"`
	}{Report: Report{DiskTotal: units.Format(100*1024*1024, units.Megabyte, 2)}}

	data, err := json.Marshal(wrapper)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"disk_total":100.00`)
}
