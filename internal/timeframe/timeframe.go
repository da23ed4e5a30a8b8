// Package timeframe parses candle interval strings such as "1m", "15m", "4h" and "1d".
package timeframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedUnit is returned for interval strings whose unit is not m, h or d.
var ErrUnsupportedUnit = errors.New("unsupported timeframe unit")

// Default is the interval used when a lenient parse fails.
var Default = Timeframe{Value: 1, Unit: 'm'}

// Timeframe is a positive count of minutes, hours or days.
type Timeframe struct {
	Value int
	Unit  byte
}

// Parse reads a timeframe strictly. Empty input, non-numeric counts and unknown units are errors.
// Units are case-insensitive except M, which the exchange uses for months.
func Parse(s string) (Timeframe, error) {
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
	}
	// "1M" is a month on the exchange, not a minute.
	if t[len(t)-1] == 'M' {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrUnsupportedUnit, s)
	}
	t = strings.ToLower(t)
	unit := t[len(t)-1]
	switch unit {
	case 'm', 'h', 'd':
	default:
		return Timeframe{}, fmt.Errorf("%w: %q", ErrUnsupportedUnit, s)
	}
	n, err := strconv.Atoi(t[:len(t)-1])
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
	}
	return Timeframe{Value: n, Unit: unit}, nil
}

// ParseOrDefault never fails: malformed input degrades to one minute.
func ParseOrDefault(s string) Timeframe {
	tf, err := Parse(s)
	if err != nil {
		return Default
	}
	return tf
}

// Duration returns the length of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf.Unit {
	case 'h':
		return time.Duration(tf.Value) * time.Hour
	case 'd':
		return time.Duration(tf.Value) * 24 * time.Hour
	default:
		return time.Duration(tf.Value) * time.Minute
	}
}

// String renders the timeframe in exchange interval notation.
func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Value) + string(tf.Unit)
}
