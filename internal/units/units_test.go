package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseByteUnit(t *testing.T) {
	tests := []struct {
		in   string
		want ByteUnit
	}{
		{"B", Byte},
		{"KB", Kilobyte},
		{"mb", Megabyte},
		{" GB ", Gigabyte},
		{"gigabyte", Gigabyte},
		{"TB", Terabyte},
		{"petabytes", Petabyte},
		{"", Byte},
		{"GiB", Byte},
		{"furlongs", Byte},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseByteUnit(tt.in))
		})
	}
}

func TestByteUnit_SizeAndSymbol(t *testing.T) {
	assert.Equal(t, 1.0, Byte.Size())
	assert.Equal(t, 1024.0, Kilobyte.Size())
	assert.Equal(t, float64(1<<30), Gigabyte.Size())
	assert.Equal(t, float64(1<<50), Petabyte.Size())

	assert.Equal(t, "GB", Gigabyte.String())
	assert.Equal(t, "MB/s", Megabyte.RateString())

	// Out-of-range values behave like Byte.
	assert.Equal(t, "B", ByteUnit(42).String())
	assert.Equal(t, 1.0, ByteUnit(-1).Size())
}

func TestFormat_MatchesRoundingFormula(t *testing.T) {
	units := []ByteUnit{Byte, Kilobyte, Megabyte, Gigabyte, Terabyte, Petabyte}
	inputs := []float64{0, 1, 1023, 1536, 123456789, 2 << 30, 987654321012, 1 << 52}
	for _, u := range units {
		for _, b := range inputs {
			for _, p := range []uint{0, 1, 2, 3} {
				got := Format(b, u, p)
				pow := math.Pow10(int(p))
				want := math.Round(b/u.Size()*pow) / pow
				assert.Equal(t, want, got.Value, "Format(%v, %s, %d)", b, u, p)
				assert.Equal(t, u.String(), got.Unit)
				assert.Equal(t, p, got.Precision)
			}
		}
	}
}

func TestFormat_Gigabytes(t *testing.T) {
	v := Format(float64(uint64(1)<<31), Gigabyte, 2)
	assert.Equal(t, 2.0, v.Value)
	assert.Equal(t, "2.00", v.Number())
	assert.Equal(t, "2.00 GB", v.String())
}

func TestFormatRate(t *testing.T) {
	v := FormatRate(3*1024*1024, Megabyte, 1)
	assert.Equal(t, 3.0, v.Value)
	assert.Equal(t, "MB/s", v.Unit)
	assert.Equal(t, "3.0", v.Number())
}

func TestPercent(t *testing.T) {
	v := Percent(12.3456, 2)
	assert.Equal(t, 12.35, v.Value)
	assert.Equal(t, "%", v.Unit)
}

func TestByteUnit_TextRoundTrip(t *testing.T) {
	var u ByteUnit
	assert.NoError(t, u.UnmarshalText([]byte("TB")))
	assert.Equal(t, Terabyte, u)

	text, err := u.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "TB", string(text))

	assert.NoError(t, u.SetValue("nonsense"))
	assert.Equal(t, Byte, u)
}
