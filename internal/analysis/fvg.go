package analysis

import (
	"smc-trading-bot/internal/broker"
)

// DetectGaps scans three-candle windows for fair value gaps. The gap is
// anchored on the middle candle. A gap later traded back through
// (bullish: a low at or below its bottom; bearish: a high at or above
// its top) is returned as an inverse gap with flipped bias instead.
func DetectGaps(candles []broker.Candle) (active, inverse []Zone) {
	if len(candles) < 3 {
		return nil, nil
	}

	for i := 1; i <= len(candles)-2; i++ {
		prev := candles[i-1]
		next := candles[i+1]

		var zone Zone
		switch {
		case prev.High < next.Low:
			zone = Zone{Kind: KindGap, Bias: Bullish, Top: next.Low, Bottom: prev.High}
		case prev.Low > next.High:
			zone = Zone{Kind: KindGap, Bias: Bearish, Top: prev.Low, Bottom: next.High}
		default:
			continue
		}
		zone.OriginIndex = i
		zone.OriginTime = candles[i].Time

		if gapFilled(zone, candles[i+1:]) {
			inverse = append(inverse, zone.derive())
		} else {
			active = append(active, zone)
		}
	}
	return active, inverse
}

func gapFilled(z Zone, after []broker.Candle) bool {
	for _, c := range after {
		if z.Bias == Bullish && c.Low <= z.Bottom {
			return true
		}
		if z.Bias == Bearish && c.High >= z.Top {
			return true
		}
	}
	return false
}
