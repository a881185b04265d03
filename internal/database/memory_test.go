package database

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestMemoryStoreSignals(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	first := &Signal{Asset: "XAUUSD", Direction: DirectionLong, SweepLevel: "asia_low", TradeValid: true, CreatedAt: base}
	second := &Signal{Asset: "XAUUSD", Direction: DirectionLong, SweepLevel: "asia_low", TradeValid: true, CreatedAt: base.Add(10 * time.Minute)}
	if err := m.SaveSignal(ctx, first); err != nil {
		t.Fatalf("SaveSignal failed: %v", err)
	}
	m.SaveSignal(ctx, second)

	if first.ID == 0 || second.ID == first.ID {
		t.Fatalf("Expected distinct IDs, got %d and %d", first.ID, second.ID)
	}
	if first.ConfluencesUsed == nil {
		t.Error("Expected confluences to default to an empty list")
	}

	since := second.CreatedAt.Add(-15 * time.Minute)
	found, _ := m.RecentExecutedSignal(ctx, "XAUUSD", DirectionLong, "asia_low", since)
	if found {
		t.Fatal("Expected no executed signal before marking")
	}

	if err := m.MarkSignalExecuted(ctx, first.ID); err != nil {
		t.Fatalf("MarkSignalExecuted failed: %v", err)
	}
	found, _ = m.RecentExecutedSignal(ctx, "XAUUSD", DirectionLong, "asia_low", since)
	if !found {
		t.Error("Expected the executed signal inside the window")
	}
	found, _ = m.RecentExecutedSignal(ctx, "XAUUSD", DirectionLong, "london_high", since)
	if found {
		t.Error("Expected a different sweep level not to match")
	}
	found, _ = m.RecentExecutedSignal(ctx, "XAUUSD", DirectionLong, "", since)
	if !found {
		t.Error("Expected an empty sweep level to match any")
	}
	found, _ = m.RecentExecutedSignal(ctx, "XAUUSD", DirectionLong, "", base.Add(time.Minute))
	if found {
		t.Error("Expected a signal older than since to be ignored")
	}

	if err := m.MarkSignalExecuted(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	list, _ := m.ListSignals(ctx, SignalFilter{Asset: "XAUUSD", Limit: 1})
	if len(list) != 1 || list[0].ID != second.ID {
		t.Errorf("Expected newest signal first, got %+v", list)
	}
}

func TestMemoryStoreCloseTradeOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	trade := &Trade{Asset: "US100", Direction: DirectionShort, EntryPrice: 18000, SLPrice: 18050, TPPrice: 17900, LotSize: 1}
	if err := m.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if trade.Status != TradeStatusOpen {
		t.Fatalf("Expected new trade to be open, got %s", trade.Status)
	}

	open, _ := m.HasOpenTrade(ctx, "US100", DirectionShort)
	if !open {
		t.Error("Expected HasOpenTrade to see the trade")
	}

	closeAt := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	if err := m.CloseTrade(ctx, trade.ID, TradeClose{ExitPrice: 17900, PnL: 100, Reason: CloseReasonTP, ClosedAt: closeAt}); err != nil {
		t.Fatalf("CloseTrade failed: %v", err)
	}
	if err := m.CloseTrade(ctx, trade.ID, TradeClose{ExitPrice: 17800, PnL: 200, Reason: CloseReasonTP, ClosedAt: closeAt}); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Expected ErrAlreadyClosed on second close, got %v", err)
	}
	if err := m.CloseTrade(ctx, 42, TradeClose{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown trade, got %v", err)
	}

	got, _ := m.GetTrade(ctx, trade.ID)
	if got.IsOpen() || *got.ExitPrice != 17900 || *got.ClosedReason != CloseReasonTP {
		t.Errorf("Expected first close to stick, got %+v", got)
	}

	openTrades, _ := m.GetOpenTrades(ctx)
	if len(openTrades) != 0 {
		t.Errorf("Expected no open trades, got %d", len(openTrades))
	}
	closed, _ := m.ListTrades(ctx, TradeFilter{Status: TradeStatusClosed})
	if len(closed) != 1 {
		t.Errorf("Expected one closed trade, got %d", len(closed))
	}
}

func TestMemoryStoreDailyCountsPerDate(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.IncrementDailyCount(ctx, "XAUUSD", "2024-03-04")
	n, _ := m.IncrementDailyCount(ctx, "XAUUSD", "2024-03-04")
	if n != 2 {
		t.Errorf("Expected count 2, got %d", n)
	}
	if c, _ := m.GetDailyCount(ctx, "XAUUSD", "2024-03-05"); c != 0 {
		t.Errorf("Expected next day to start at 0, got %d", c)
	}
	if c, _ := m.GetDailyCount(ctx, "US100", "2024-03-04"); c != 0 {
		t.Errorf("Expected other asset to be independent, got %d", c)
	}
}

func TestPerformanceStatUpdates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	updates := []StatUpdate{
		{PatternKey: "FVG+sweep", Asset: "XAUUSD", Win: true, RR: 2, PnL: 200},
		{PatternKey: "FVG+sweep", Asset: "XAUUSD", Win: false, RR: -1, PnL: -100},
		{PatternKey: "FVG+sweep", Asset: "XAUUSD", Win: true, RR: 3, PnL: 300},
	}
	var last *PerformanceStat
	for _, u := range updates {
		s, err := m.UpdatePerformanceStat(ctx, u)
		if err != nil {
			t.Fatalf("UpdatePerformanceStat failed: %v", err)
		}
		last = s
	}

	if last.TotalTrades != 3 || last.WinningTrades != 2 || last.LosingTrades != 1 {
		t.Errorf("Unexpected counts %+v", last)
	}
	if math.Abs(last.WinRate-66.6666666) > 1e-4 {
		t.Errorf("Expected win rate 66.67, got %v", last.WinRate)
	}
	if math.Abs(last.AvgRR-4.0/3.0) > 1e-9 {
		t.Errorf("Expected avg RR 1.333, got %v", last.AvgRR)
	}
	if last.TotalPnL != 400 {
		t.Errorf("Expected total pnl 400, got %v", last.TotalPnL)
	}

	stats, _ := m.GetPerformanceStats(ctx, "US100")
	if len(stats) != 0 {
		t.Errorf("Expected no US100 stats, got %d", len(stats))
	}
}

func TestMemoryStoreState(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := m.GetState(ctx, "bot_paused"); ok {
		t.Fatal("Expected unset key")
	}
	m.SetState(ctx, "bot_paused", "true")
	v, ok, _ := m.GetState(ctx, "bot_paused")
	if !ok || v != "true" {
		t.Errorf("Expected true, got %q (%v)", v, ok)
	}

	m.SaveLog(ctx, "warn", "broker slow")
	if logs := m.Logs(); len(logs) != 1 || logs[0].Message != "broker slow" {
		t.Errorf("Unexpected logs %+v", logs)
	}
}
