package analysis

import (
	"math"

	"smc-trading-bot/internal/broker"
)

// ImpulseConfig holds the momentum thresholds for impulse blocks
type ImpulseConfig struct {
	BodyRatio   float64 // impulse body vs origin body
	RunLength   int     // consecutive impulse-coloured candles
	ATRMultiple float64 // cumulative run move vs ATR
	ATRPeriod   int
}

// DefaultImpulseConfig returns the standard thresholds
func DefaultImpulseConfig() ImpulseConfig {
	return ImpulseConfig{
		BodyRatio:   2.0,
		RunLength:   3,
		ATRMultiple: 2.0,
		ATRPeriod:   DefaultATRPeriod,
	}
}

func body(c broker.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

// DetectImpulses finds the last opposing candle before a strong move.
// A bearish candle followed by a bullish impulse gives a bullish block
// and vice versa. Blocks whose range a later close has passed through
// against their bias are returned as breaker blocks with flipped bias.
func DetectImpulses(candles []broker.Candle, cfg ImpulseConfig) (active, breakers []Zone) {
	if len(candles) < 2 {
		return nil, nil
	}
	atr := ATR(candles, cfg.ATRPeriod)

	for i := 0; i <= len(candles)-2; i++ {
		origin := candles[i]
		if body(origin) == 0 {
			continue
		}

		next := candles[i+1]
		var bias Bias
		switch {
		case origin.IsBearish() && next.IsBullish():
			bias = Bullish
		case origin.IsBullish() && next.IsBearish():
			bias = Bearish
		default:
			continue
		}

		if !cfg.hasMomentum(candles, i, bias, atr) {
			continue
		}

		zone := Zone{
			Kind:        KindImpulse,
			Bias:        bias,
			Top:         origin.High,
			Bottom:      origin.Low,
			OriginIndex: i,
			OriginTime:  origin.Time,
		}
		if blockBroken(zone, candles[i+1:]) {
			breakers = append(breakers, zone.derive())
		} else {
			active = append(active, zone)
		}
	}
	return active, breakers
}

func (cfg ImpulseConfig) hasMomentum(candles []broker.Candle, i int, bias Bias, atr float64) bool {
	origin := candles[i]
	if body(candles[i+1]) >= cfg.BodyRatio*body(origin) {
		return true
	}

	run := 0
	extreme := origin.High
	if bias == Bearish {
		extreme = origin.Low
	}
	for j := i + 1; j < len(candles); j++ {
		c := candles[j]
		if bias == Bullish && c.IsBullish() {
			extreme = math.Max(extreme, c.High)
		} else if bias == Bearish && c.IsBearish() {
			extreme = math.Min(extreme, c.Low)
		} else {
			break
		}
		run++
	}
	if run >= cfg.RunLength {
		return true
	}

	move := extreme - origin.Low
	if bias == Bearish {
		move = origin.High - extreme
	}
	return atr > 0 && move > cfg.ATRMultiple*atr
}

func blockBroken(z Zone, after []broker.Candle) bool {
	for _, c := range after {
		if z.Bias == Bullish && c.Close < z.Bottom {
			return true
		}
		if z.Bias == Bearish && c.Close > z.Top {
			return true
		}
	}
	return false
}
