package analysis

import (
	"time"

	"smc-trading-bot/internal/broker"
)

// DefaultSweepLookback is the number of recent candles checked for a breach
const DefaultSweepLookback = 5

// Level is a named reference price. A nil Price means the level is
// unavailable this cycle and is skipped.
type Level struct {
	Name   string
	Price  *float64
	IsHigh bool
}

// SweepDirection is the side the level was breached on
type SweepDirection string

const (
	SweepAbove SweepDirection = "above"
	SweepBelow SweepDirection = "below"
)

// Sweep is a breach of a level followed by a return to the other side
type Sweep struct {
	LevelName  string         `json:"level_name"`
	LevelPrice float64        `json:"level_price"`
	Direction  SweepDirection `json:"direction"`
	CandleTime time.Time      `json:"candle_time"`
}

// DetectSweep checks levels in the given priority order against the last
// lookback candles. A high level is swept when some candle's high went
// above it and price is now back below; a low level mirrors that. Only
// the first match is returned, stamped with the most recent breaching
// candle.
func DetectSweep(levels []Level, candles []broker.Candle, price float64, lookback int) *Sweep {
	if len(candles) == 0 {
		return nil
	}
	if lookback <= 0 {
		lookback = DefaultSweepLookback
	}
	recent := candles
	if len(recent) > lookback {
		recent = recent[len(recent)-lookback:]
	}

	for _, lvl := range levels {
		if lvl.Price == nil {
			continue
		}
		level := *lvl.Price

		if lvl.IsHigh && price >= level {
			continue
		}
		if !lvl.IsHigh && price <= level {
			continue
		}

		for j := len(recent) - 1; j >= 0; j-- {
			c := recent[j]
			if lvl.IsHigh && c.High > level {
				return &Sweep{LevelName: lvl.Name, LevelPrice: level, Direction: SweepAbove, CandleTime: c.Time}
			}
			if !lvl.IsHigh && c.Low < level {
				return &Sweep{LevelName: lvl.Name, LevelPrice: level, Direction: SweepBelow, CandleTime: c.Time}
			}
		}
	}
	return nil
}
