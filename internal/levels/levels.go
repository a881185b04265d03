// Package levels computes the day's session reference levels
package levels

import (
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/analysis"
	"smc-trading-bot/internal/broker"
)

// DateLayout is the calendar date format used for as_of_date and cache keys
const DateLayout = "2006-01-02"

// Range is the high/low of one session window. Both are nil when no
// candle fell inside the window.
type Range struct {
	High *float64 `json:"high"`
	Low  *float64 `json:"low"`
}

// LevelSet holds one instrument's levels for one calendar day
type LevelSet struct {
	Asset   string `json:"asset"`
	AsOf    string `json:"as_of_date"`
	Asia    Range  `json:"asia"`
	London  Range  `json:"london"`
	PrevDay Range  `json:"prev_day"`
}

// Named returns the levels in sweep priority order
func (s LevelSet) Named() []analysis.Level {
	return []analysis.Level{
		{Name: "asia_high", Price: s.Asia.High, IsHigh: true},
		{Name: "asia_low", Price: s.Asia.Low},
		{Name: "london_high", Price: s.London.High, IsHigh: true},
		{Name: "london_low", Price: s.London.Low},
		{Name: "prev_day_high", Price: s.PrevDay.High, IsHigh: true},
		{Name: "prev_day_low", Price: s.PrevDay.Low},
	}
}

// Windows are the intraday session windows in local clock time
type Windows struct {
	Asia   config.SessionWindow
	London config.SessionWindow
}

// DefaultWindows returns Asia 00:00-09:00 and London 09:00-14:30
func DefaultWindows() Windows {
	return Windows{
		Asia:   config.MustSessionWindow("00:00-09:00"),
		London: config.MustSessionWindow("09:00-14:30"),
	}
}

// Compute derives all three ranges for now's calendar day in loc. Asia
// and London are taken from today, PrevDay is the whole of yesterday.
func Compute(asset string, candles []broker.Candle, now time.Time, loc *time.Location, w Windows) LevelSet {
	local := now.In(loc)
	y, m, d := local.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	yesterday := time.Date(y, m, d-1, 0, 0, 0, 0, loc)

	asiaStart, asiaEnd := w.Asia.On(today)
	londonStart, londonEnd := w.London.On(today)

	return LevelSet{
		Asset:   asset,
		AsOf:    today.Format(DateLayout),
		Asia:    rangeOf(candles, asiaStart, asiaEnd),
		London:  rangeOf(candles, londonStart, londonEnd),
		PrevDay: rangeOf(candles, yesterday, today),
	}
}

// rangeOf scans candles with start <= time < end
func rangeOf(candles []broker.Candle, start, end time.Time) Range {
	var r Range
	for _, c := range candles {
		if c.Time.Before(start) || !c.Time.Before(end) {
			continue
		}
		if r.High == nil || c.High > *r.High {
			h := c.High
			r.High = &h
		}
		if r.Low == nil || c.Low < *r.Low {
			l := c.Low
			r.Low = &l
		}
	}
	return r
}
