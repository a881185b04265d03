package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPaperCandlesAreDeterministic(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 2, 0, 0, time.UTC)
	p := NewPaperClient(PaperConfig{Seed: 7, Now: fixedNow(now)})
	ctx := context.Background()

	a, err := p.GetCandles(ctx, "XAUUSD", 20)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	b, _ := p.GetCandles(ctx, "XAUUSD", 20)

	if len(a) != 20 {
		t.Fatalf("Expected 20 candles, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Candle %d differs between fetches", i)
		}
		if a[i].High < a[i].Low || a[i].High < a[i].Open || a[i].Low > a[i].Close {
			t.Errorf("Candle %d has inconsistent OHLC: %+v", i, a[i])
		}
		if i > 0 && a[i].Time.Sub(a[i-1].Time) != 5*time.Minute {
			t.Errorf("Expected 5m spacing at %d, got %v", i, a[i].Time.Sub(a[i-1].Time))
		}
	}
	// the forming bar (15:00) is excluded
	if !a[19].Time.Equal(time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC)) {
		t.Errorf("Expected last bar 14:55, got %s", a[19].Time)
	}
}

func TestPaperOrderLifecycle(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	clock := now
	p := NewPaperClient(PaperConfig{Balance: 10000, Now: func() time.Time { return clock }})
	ctx := context.Background()

	p.SetQuote("XAUUSD", Quote{Bid: 2000.0, Ask: 2000.2, Time: now})
	res, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "XAUUSD", Direction: Long, Volume: 1, SL: 1990, TP: 2020})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if !res.Success || res.Price != 2000.2 {
		t.Fatalf("Expected fill at ask 2000.2, got %+v", res)
	}

	positions, _ := p.GetOpenPositions(ctx)
	if len(positions) != 1 || positions[0].Ticket != res.Ticket {
		t.Fatalf("Expected the new position to be open, got %+v", positions)
	}

	clock = now.Add(10 * time.Minute)
	p.SetQuote("XAUUSD", Quote{Bid: 2020.5, Ask: 2020.7, Time: clock})

	positions, _ = p.GetOpenPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("Expected TP to close the position, got %+v", positions)
	}

	deals, _ := p.GetClosedDeals(ctx, now, clock, "XAUUSD")
	if len(deals) != 2 {
		t.Fatalf("Expected in and out deals, got %d", len(deals))
	}
	out := deals[1]
	if out.Entry != DealOut || out.PositionID != res.Ticket || out.Price != 2020 {
		t.Errorf("Unexpected exit deal %+v", out)
	}
	// (2020 - 2000.2) / 0.01 ticks * 1.0 * 1 lot
	if out.Profit != 1980 {
		t.Errorf("Expected profit 1980, got %f", out.Profit)
	}

	acct, _ := p.GetAccountInfo(ctx)
	if acct.Balance != 11980 {
		t.Errorf("Expected balance 11980, got %f", acct.Balance)
	}
}

func TestPaperRejectsBadVolumeAndInjectedFailures(t *testing.T) {
	p := NewPaperClient(PaperConfig{})
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "XAUUSD", Direction: Short, Volume: 500})
	var orderErr *OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("Expected OrderError for oversized volume, got %v", err)
	}

	p.InjectFailure("GetOpenPositions", ErrUnavailable)
	if _, err := p.GetOpenPositions(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected injected ErrUnavailable, got %v", err)
	}
	p.InjectFailure("GetOpenPositions", nil)
	if _, err := p.GetOpenPositions(ctx); err != nil {
		t.Errorf("Expected failure to be cleared, got %v", err)
	}

	if _, err := p.GetSymbolMeta(ctx, "EURUSD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown symbol, got %v", err)
	}
}
