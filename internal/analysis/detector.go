package analysis

import (
	"sort"

	"smc-trading-bot/internal/broker"
)

// Result is the output of one detection pass
type Result struct {
	Gaps        []Zone `json:"gaps"`
	Impulses    []Zone `json:"impulses"`
	InverseGaps []Zone `json:"derived_gaps"`
	Breakers    []Zone `json:"derived_impulses"`
}

// Zones flattens the result into one list ordered by origin index, then
// kind, then derived flag
func (r Result) Zones() []Zone {
	all := make([]Zone, 0, len(r.Gaps)+len(r.Impulses)+len(r.InverseGaps)+len(r.Breakers))
	all = append(all, r.Gaps...)
	all = append(all, r.InverseGaps...)
	all = append(all, r.Impulses...)
	all = append(all, r.Breakers...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].OriginIndex != all[j].OriginIndex {
			return all[i].OriginIndex < all[j].OriginIndex
		}
		return all[i].Kind < all[j].Kind
	})
	return all
}

// ActiveAt returns every zone containing price
func (r Result) ActiveAt(price float64) []Zone {
	var out []Zone
	for _, z := range r.Zones() {
		if z.Contains(price) {
			out = append(out, z)
		}
	}
	return out
}

// Detector runs all zone detectors over a candle window. It holds only
// configuration; every call re-derives zones from its input.
type Detector struct {
	Impulse       ImpulseConfig
	SweepLookback int
}

// NewDetector creates a detector with default thresholds
func NewDetector() *Detector {
	return &Detector{
		Impulse:       DefaultImpulseConfig(),
		SweepLookback: DefaultSweepLookback,
	}
}

// Detect finds gaps, impulse blocks and their derived variants
func (d *Detector) Detect(candles []broker.Candle) Result {
	var r Result
	r.Gaps, r.InverseGaps = DetectGaps(candles)
	r.Impulses, r.Breakers = DetectImpulses(candles, d.Impulse)
	return r
}

// Sweep runs sweep detection with the configured lookback
func (d *Detector) Sweep(levels []Level, candles []broker.Candle, price float64) *Sweep {
	return DetectSweep(levels, candles, price, d.SweepLookback)
}
