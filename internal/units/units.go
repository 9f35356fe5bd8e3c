// Package units converts raw byte and rate counters into display values
// expressed in a configured binary unit. Every conversion yields a
// [Value] carrying the scaled number, the unit symbol, and the number of
// decimal places the value was rounded to.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ByteUnit is a binary (1024-based) size unit.
type ByteUnit int

// Supported units, smallest first. Byte is the zero value and the
// fallback for anything [ParseByteUnit] does not recognize.
const (
	Byte ByteUnit = iota
	Kilobyte
	Megabyte
	Gigabyte
	Terabyte
	Petabyte
)

var symbols = [...]string{"B", "KB", "MB", "GB", "TB", "PB"}

// ParseByteUnit maps a unit symbol ("GB") or name ("gigabyte") to a
// ByteUnit. Matching is case-insensitive. Unrecognized input falls back
// to [Byte] rather than failing, so a typo in configuration degrades to
// raw byte values instead of aborting startup.
func ParseByteUnit(s string) ByteUnit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kb", "kilobyte", "kilobytes":
		return Kilobyte
	case "mb", "megabyte", "megabytes":
		return Megabyte
	case "gb", "gigabyte", "gigabytes":
		return Gigabyte
	case "tb", "terabyte", "terabytes":
		return Terabyte
	case "pb", "petabyte", "petabytes":
		return Petabyte
	default:
		return Byte
	}
}

// Size returns the number of bytes in one u.
func (u ByteUnit) Size() float64 {
	if u < Byte || u > Petabyte {
		return 1
	}
	return math.Pow(1024, float64(u))
}

// String returns the canonical unit symbol.
func (u ByteUnit) String() string {
	if u < Byte || u > Petabyte {
		return symbols[Byte]
	}
	return symbols[u]
}

// RateString returns the per-second symbol used for throughput metrics,
// e.g. "MB/s".
func (u ByteUnit) RateString() string {
	return u.String() + "/s"
}

// SetValue implements cleanenv.Setter so units can be read directly
// from environment variables.
func (u *ByteUnit) SetValue(s string) error {
	*u = ParseByteUnit(s)
	return nil
}

// MarshalText renders the unit symbol.
func (u ByteUnit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses a unit symbol with the same fallback as
// [ParseByteUnit].
func (u *ByteUnit) UnmarshalText(text []byte) error {
	*u = ParseByteUnit(string(text))
	return nil
}

// Value is a display-ready measurement.
type Value struct {
	Value     float64
	Unit      string
	Precision uint
}

// Number renders the value with exactly Precision decimal places.
func (v Value) Number() string {
	return strconv.FormatFloat(v.Value, 'f', int(v.Precision), 64)
}

// String renders "<number> <unit>" for logs.
func (v Value) String() string {
	if v.Unit == "" {
		return v.Number()
	}
	return fmt.Sprintf("%s %s", v.Number(), v.Unit)
}

// Round rounds v to precision decimal places, half away from zero.
func Round(v float64, precision uint) float64 {
	pow := math.Pow10(int(precision))
	return math.Round(v*pow) / pow
}

// Format scales a byte count into unit and rounds it to precision.
func Format(bytes float64, unit ByteUnit, precision uint) Value {
	return Value{
		Value:     Round(bytes/unit.Size(), precision),
		Unit:      unit.String(),
		Precision: precision,
	}
}

// FormatRate scales a bytes-per-second rate into unit per second.
func FormatRate(bytesPerSec float64, unit ByteUnit, precision uint) Value {
	return Value{
		Value:     Round(bytesPerSec/unit.Size(), precision),
		Unit:      unit.RateString(),
		Precision: precision,
	}
}

// Percent wraps an already-computed percentage.
func Percent(pct float64, precision uint) Value {
	return Value{
		Value:     Round(pct, precision),
		Unit:      "%",
		Precision: precision,
	}
}
