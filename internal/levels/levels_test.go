package levels

import (
	"context"
	"errors"
	"testing"
	"time"

	"smc-trading-bot/internal/broker"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("failed to load Europe/Paris: %v", err)
	}
	return loc
}

func at(loc *time.Location, day, hour, min int, high, low float64) broker.Candle {
	return broker.Candle{
		Time:  time.Date(2024, 3, day, hour, min, 0, 0, loc),
		Open:  low,
		High:  high,
		Low:   low,
		Close: high,
	}
}

func sessionCandles(loc *time.Location) []broker.Candle {
	return []broker.Candle{
		at(loc, 3, 12, 0, 3000, 2900), // two days back, ignored
		at(loc, 4, 10, 0, 2010, 1990),
		at(loc, 4, 23, 55, 2020, 2000),
		at(loc, 5, 3, 0, 2030, 2015),
		at(loc, 5, 8, 55, 2035, 2025),
		at(loc, 5, 9, 0, 2040, 2028),
		at(loc, 5, 14, 30, 2100, 2050), // execution window, not London
	}
}

func assertLevel(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("Expected %s=%v, got nil", name, want)
		return
	}
	if *got != want {
		t.Errorf("Expected %s=%v, got %v", name, want, *got)
	}
}

func TestComputeSessionRanges(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, loc)

	set := Compute("XAUUSD", sessionCandles(loc), now, loc, DefaultWindows())

	if set.AsOf != "2024-03-05" {
		t.Errorf("Expected as_of 2024-03-05, got %s", set.AsOf)
	}
	assertLevel(t, "asia_high", set.Asia.High, 2035)
	assertLevel(t, "asia_low", set.Asia.Low, 2015)
	assertLevel(t, "london_high", set.London.High, 2040)
	assertLevel(t, "london_low", set.London.Low, 2028)
	assertLevel(t, "prev_day_high", set.PrevDay.High, 2020)
	assertLevel(t, "prev_day_low", set.PrevDay.Low, 1990)
}

func TestComputeOnDSTChangeDay(t *testing.T) {
	loc := paris(t)
	day := func(h, m int) time.Time { return time.Date(2026, 3, 29, h, m, 0, 0, loc) }
	candles := []broker.Candle{
		{Time: day(8, 30), Open: 90, High: 100, Low: 90, Close: 95},
		{Time: day(9, 30), Open: 190, High: 200, Low: 190, Close: 195},
	}

	set := Compute("XAUUSD", candles, day(15, 0), loc, DefaultWindows())

	assertLevel(t, "asia_high", set.Asia.High, 100)
	assertLevel(t, "asia_low", set.Asia.Low, 90)
	assertLevel(t, "london_high", set.London.High, 200)
	assertLevel(t, "london_low", set.London.Low, 190)
}

func TestComputeEmptyWindowIsNil(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, loc)

	set := Compute("US100", nil, now, loc, DefaultWindows())
	for _, lvl := range set.Named() {
		if lvl.Price != nil {
			t.Errorf("Expected %s to be nil with no candles", lvl.Name)
		}
	}
}

func TestNamedOrder(t *testing.T) {
	want := []string{"asia_high", "asia_low", "london_high", "london_low", "prev_day_high", "prev_day_low"}
	got := LevelSet{}.Named()
	if len(got) != len(want) {
		t.Fatalf("Expected %d levels, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("Expected level %d to be %s, got %s", i, name, got[i].Name)
		}
		if got[i].IsHigh != (i%2 == 0) {
			t.Errorf("Unexpected IsHigh for %s", name)
		}
	}
}

type memMirror struct {
	sets map[string]LevelSet
}

func (m *memMirror) Load(ctx context.Context, asset, date string) (*LevelSet, error) {
	set, ok := m.sets[asset+":"+date]
	if !ok {
		return nil, errors.New("miss")
	}
	return &set, nil
}

func (m *memMirror) Store(ctx context.Context, set LevelSet) error {
	m.sets[set.Asset+":"+set.AsOf] = set
	return nil
}

func TestCacheComputesOncePerDay(t *testing.T) {
	loc := paris(t)
	calls := 0
	fetch := func(ctx context.Context, asset string) ([]broker.Candle, error) {
		calls++
		return sessionCandles(loc), nil
	}
	c := NewCache(loc, DefaultWindows(), fetch, nil, nil)
	ctx := context.Background()

	first := time.Date(2024, 3, 5, 14, 35, 0, 0, loc)
	if _, err := c.Get(ctx, "XAUUSD", first); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := c.Get(ctx, "XAUUSD", first.Add(3*time.Hour)); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 fetch on the same day, got %d", calls)
	}

	next, err := c.Get(ctx, "XAUUSD", first.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if calls != 2 || next.AsOf != "2024-03-06" {
		t.Errorf("Expected recompute for 2024-03-06, got calls=%d as_of=%s", calls, next.AsOf)
	}

	c.Invalidate("XAUUSD")
	c.Get(ctx, "XAUUSD", first.Add(24*time.Hour))
	if calls != 3 {
		t.Errorf("Expected recompute after invalidate, got %d fetches", calls)
	}
}

func TestCacheFetchErrorIsNotCached(t *testing.T) {
	loc := paris(t)
	fail := true
	fetch := func(ctx context.Context, asset string) ([]broker.Candle, error) {
		if fail {
			return nil, broker.ErrUnavailable
		}
		return sessionCandles(loc), nil
	}
	c := NewCache(loc, DefaultWindows(), fetch, nil, nil)
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, loc)

	if _, err := c.Get(context.Background(), "XAUUSD", now); !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if _, ok := c.Peek("XAUUSD"); ok {
		t.Fatal("Expected nothing cached after a failed fetch")
	}

	fail = false
	set, err := c.Get(context.Background(), "XAUUSD", now)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	assertLevel(t, "asia_high", set.Asia.High, 2035)
}

func TestCacheUsesMirror(t *testing.T) {
	loc := paris(t)
	mirror := &memMirror{sets: make(map[string]LevelSet)}
	calls := 0
	fetch := func(ctx context.Context, asset string) ([]broker.Candle, error) {
		calls++
		return sessionCandles(loc), nil
	}
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, loc)
	ctx := context.Background()

	NewCache(loc, DefaultWindows(), fetch, mirror, nil).Get(ctx, "XAUUSD", now)

	restarted := NewCache(loc, DefaultWindows(), fetch, mirror, nil)
	set, err := restarted.Get(ctx, "XAUUSD", now)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected mirrored levels to avoid a refetch, got %d fetches", calls)
	}
	assertLevel(t, "london_high", set.London.High, 2040)
}
