package choropleth

import (
	"fmt"
	"math"
	"sort"
)

// Percentiles used to clip the color domain.
const (
	LowPercentile  = 0.05
	HighPercentile = 0.95
)

// Range is the color domain (Min, Max) plus the true extent for the legend.
type Range struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	ActualMin float64 `json:"actual_min"`
	ActualMax float64 `json:"actual_max"`
}

// ComputeRange sorts values and clips the domain to the 5th and 95th
// percentile indexes. Empty input yields the zero Range.
func ComputeRange(values []float64) Range {
	if len(values) == 0 {
		return Range{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	lo := int(math.Floor(float64(n) * LowPercentile))
	hi := int(math.Floor(float64(n) * HighPercentile))
	if hi > n-1 {
		hi = n - 1
	}
	return Range{
		Min:       sorted[lo],
		Max:       sorted[hi],
		ActualMin: sorted[0],
		ActualMax: sorted[n-1],
	}
}

// RGB is an 8-bit color.
type RGB struct {
	R, G, B uint8
}

// Hex renders the color as "#RRGGBB".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Gradient stops, blue through white to red.
var (
	Blue      = RGB{0x3B, 0x82, 0xF6}
	LightBlue = RGB{0x93, 0xC5, 0xFD}
	White     = RGB{0xFF, 0xFF, 0xFF}
	LightRed  = RGB{0xFC, 0xA5, 0xA5}
	Red       = RGB{0xEF, 0x44, 0x44}

	// Neutral fills every feature when the domain is a single value.
	Neutral = RGB{0xE5, 0xE7, 0xEB}

	// NoData fills features without a joined value.
	NoData = RGB{0xF3, 0xF4, 0xF6}
)

var stops = []struct {
	at    float64
	color RGB
}{
	{0, Blue},
	{0.25, LightBlue},
	{0.5, White},
	{0.75, LightRed},
	{1, Red},
}

// ColorFor maps v onto the gradient over [min, max], clamping outliers.
func ColorFor(v, min, max float64) RGB {
	if min == max || math.IsNaN(v) {
		return Neutral
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	t := (v - min) / (max - min)

	for i := 1; i < len(stops); i++ {
		if t <= stops[i].at {
			lo, hi := stops[i-1], stops[i]
			f := (t - lo.at) / (hi.at - lo.at)
			return RGB{
				R: lerp(lo.color.R, hi.color.R, f),
				G: lerp(lo.color.G, hi.color.G, f),
				B: lerp(lo.color.B, hi.color.B, f),
			}
		}
	}
	return Red
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
