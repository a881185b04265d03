package analysis

import (
	"testing"

	"smc-trading-bot/internal/broker"
)

func price(v float64) *float64 { return &v }

func testLevels() []Level {
	return []Level{
		{Name: "asia_high", Price: price(105), IsHigh: true},
		{Name: "asia_low", Price: price(95)},
		{Name: "london_high", Price: price(110), IsHigh: true},
		{Name: "london_low", Price: price(90)},
		{Name: "prev_day_high", Price: nil, IsHigh: true},
		{Name: "prev_day_low", Price: price(85)},
	}
}

func TestSweepAboveHigh(t *testing.T) {
	candles := []broker.Candle{
		bar(0, 100, 101, 99, 100),
		bar(1, 100, 103, 99.5, 102),
		bar(2, 102, 106, 101, 104),
		bar(3, 104, 104.5, 102, 103),
	}

	s := DetectSweep(testLevels(), candles, 103, 5)
	if s == nil {
		t.Fatal("Expected a sweep of asia_high")
	}
	if s.LevelName != "asia_high" || s.Direction != SweepAbove || s.LevelPrice != 105 {
		t.Errorf("Unexpected sweep %+v", s)
	}
	if !s.CandleTime.Equal(candles[2].Time) {
		t.Errorf("Expected breaching candle time %s, got %s", candles[2].Time, s.CandleTime)
	}
}

func TestSweepRequiresReturn(t *testing.T) {
	candles := []broker.Candle{
		bar(0, 104, 106, 103, 105.5),
		bar(1, 105.5, 107, 105, 106.5),
	}
	// still above the level: breakout, not a sweep
	if s := DetectSweep(testLevels(), candles, 106.5, 5); s != nil {
		t.Errorf("Expected no sweep while price holds above, got %+v", s)
	}
}

func TestSweepPriorityOrder(t *testing.T) {
	// breaches both asia_high (105) and asia_low (95), price back inside
	candles := []broker.Candle{
		bar(0, 100, 105.5, 99, 101),
		bar(1, 101, 102, 94, 100),
	}
	s := DetectSweep(testLevels(), candles, 100, 5)
	if s == nil || s.LevelName != "asia_high" {
		t.Fatalf("Expected asia_high to win priority, got %+v", s)
	}

	// drop asia_high: asia_low is next
	levels := testLevels()
	levels[0].Price = nil
	s = DetectSweep(levels, candles, 100, 5)
	if s == nil || s.LevelName != "asia_low" || s.Direction != SweepBelow {
		t.Fatalf("Expected asia_low sweep below, got %+v", s)
	}
}

func TestSweepLookbackWindow(t *testing.T) {
	candles := []broker.Candle{
		bar(0, 100, 106, 99, 100), // breach outside the last 5
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 101, 99, 100),
		bar(3, 100, 101, 99, 100),
		bar(4, 100, 101, 99, 100),
		bar(5, 100, 101, 99, 100),
	}
	if s := DetectSweep(testLevels(), candles, 100, 5); s != nil {
		t.Errorf("Expected breach outside lookback to be ignored, got %+v", s)
	}
	if s := DetectSweep(testLevels(), nil, 100, 5); s != nil {
		t.Error("Expected nil for no candles")
	}
}
