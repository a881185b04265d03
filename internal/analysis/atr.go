package analysis

import (
	"math"

	"smc-trading-bot/internal/broker"
)

// DefaultATRPeriod is the classic 14-bar average true range
const DefaultATRPeriod = 14

// TrueRange of candle c against the previous close
func TrueRange(c broker.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR averages the last period true ranges, or all of them when fewer
// are available. Fewer than two candles yields 0.
func ATR(candles []broker.Candle, period int) float64 {
	if len(candles) < 2 || period <= 0 {
		return 0
	}

	ranges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		ranges = append(ranges, TrueRange(candles[i], candles[i-1].Close))
	}
	if len(ranges) > period {
		ranges = ranges[len(ranges)-period:]
	}

	sum := 0.0
	for _, r := range ranges {
		sum += r
	}
	return sum / float64(len(ranges))
}
