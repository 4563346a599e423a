package node

import (
	"fmt"
	"strconv"
	"strings"
)

// DisconnectedC is what a DS18B20 reports when the probe does not answer.
const DisconnectedC = -127.0

const payloadSeparator = "; "

// Reading is one temperature/battery sample taken at the top of a cycle.
type Reading struct {
	TemperatureC float64
	BatteryV     float64
}

// FormatPayload renders a reading as "<temp>; <vbat>" with two decimals each.
func FormatPayload(r Reading) string {
	return strconv.FormatFloat(r.TemperatureC, 'f', 2, 64) +
		payloadSeparator +
		strconv.FormatFloat(r.BatteryV, 'f', 2, 64)
}

// ParsePayload is the inverse of FormatPayload.
func ParsePayload(s string) (Reading, error) {
	parts := strings.Split(s, payloadSeparator)
	if len(parts) != 2 {
		return Reading{}, fmt.Errorf("payload %q: want 2 fields separated by %q, got %d", s, payloadSeparator, len(parts))
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("payload temperature %q: %w", parts[0], err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("payload battery %q: %w", parts[1], err)
	}
	return Reading{TemperatureC: t, BatteryV: v}, nil
}

// BatteryScale maps a raw ADC count on the battery sense pin to volts.
// The pin sits behind a divider, so the count is multiplied back by Divider.
type BatteryScale struct {
	Divider    float64
	ReferenceV float64
	FullScale  float64
}

// DefaultBatteryScale is a 10-bit ADC, 3.3 V reference and a halving divider.
var DefaultBatteryScale = BatteryScale{Divider: 2, ReferenceV: 3.3, FullScale: 1024}

func (s BatteryScale) Volts(count int) float64 {
	v := float64(count)
	v *= s.Divider
	v *= s.ReferenceV
	v /= s.FullScale
	return v
}
