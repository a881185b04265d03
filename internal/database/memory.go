package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same semantics as the
// PostgreSQL repository. It backs paper runs and tests.
type MemoryStore struct {
	mu sync.Mutex

	signals []*Signal
	trades  []*Trade
	daily   map[string]int
	stats   map[string]*PerformanceStat
	state   map[string]string
	logs    []BotLog

	nextSignalID int64
	nextTradeID  int64

	// Now stamps rows that carry no timestamp
	Now func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		daily: make(map[string]int),
		stats: make(map[string]*PerformanceStat),
		state: make(map[string]string),
		Now:   time.Now,
	}
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryStore) SaveSignal(ctx context.Context, sig *Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSignalID++
	sig.ID = m.nextSignalID
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = m.Now()
	}
	if sig.ConfluencesUsed == nil {
		sig.ConfluencesUsed = []string{}
	}
	cp := *sig
	cp.ConfluencesUsed = append([]string(nil), sig.ConfluencesUsed...)
	m.signals = append(m.signals, &cp)
	return nil
}

func (m *MemoryStore) GetSignal(ctx context.Context, id int64) (*Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.signals {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkSignalExecuted(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.signals {
		if s.ID == id {
			s.Executed = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListSignals(ctx context.Context, filter SignalFilter) ([]*Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := normalizeLimit(filter.Limit)
	var out []*Signal
	for i := len(m.signals) - 1; i >= 0 && len(out) < limit; i-- {
		s := m.signals[i]
		if filter.Asset != "" && s.Asset != filter.Asset {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) RecentExecutedSignal(ctx context.Context, asset, direction, sweepLevel string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.signals {
		if !s.Executed || s.Asset != asset || s.Direction != direction || s.CreatedAt.Before(since) {
			continue
		}
		if sweepLevel != "" && s.SweepLevel != sweepLevel {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) CreateTrade(ctx context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTradeID++
	trade.ID = m.nextTradeID
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	trade.CreatedAt = m.Now()
	cp := *trade
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *MemoryStore) CloseTrade(ctx context.Context, id int64, c TradeClose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.ID != id {
			continue
		}
		if t.Status != TradeStatusOpen {
			return ErrAlreadyClosed
		}
		exit, pnl, reason, at := c.ExitPrice, c.PnL, c.Reason, c.ClosedAt
		t.Status = TradeStatusClosed
		t.ExitPrice = &exit
		t.PnL = &pnl
		t.ClosedReason = &reason
		t.ExitTime = &at
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetOpenTrades(ctx context.Context) ([]*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trade
	for _, t := range m.trades {
		if t.Status == TradeStatusOpen {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (m *MemoryStore) HasOpenTrade(ctx context.Context, asset, direction string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.Status == TradeStatusOpen && t.Asset == asset && t.Direction == direction {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListTrades(ctx context.Context, filter TradeFilter) ([]*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := normalizeLimit(filter.Limit)
	var out []*Trade
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.trades[i]
		if filter.Asset != "" && t.Asset != filter.Asset {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetDailyCount(ctx context.Context, asset, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[asset+"|"+date], nil
}

func (m *MemoryStore) IncrementDailyCount(ctx context.Context, asset, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := asset + "|" + date
	m.daily[key]++
	return m.daily[key], nil
}

func (m *MemoryStore) GetPerformanceStats(ctx context.Context, asset string) ([]PerformanceStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PerformanceStat
	for _, s := range m.stats {
		if asset == "" || s.Asset == asset {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].PatternKey < out[j].PatternKey
	})
	return out, nil
}

func (m *MemoryStore) UpdatePerformanceStat(ctx context.Context, u StatUpdate) (*PerformanceStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := u.PatternKey + "|" + u.Asset
	s, ok := m.stats[key]
	if !ok {
		s = &PerformanceStat{PatternKey: u.PatternKey, Asset: u.Asset}
		m.stats[key] = s
	}
	s.apply(u, m.Now())
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetState(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	return v, ok, nil
}

func (m *MemoryStore) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = value
	return nil
}

func (m *MemoryStore) SaveLog(ctx context.Context, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, BotLog{ID: int64(len(m.logs) + 1), Level: level, Message: message, CreatedAt: m.Now()})
	return nil
}

// Logs returns a copy of the persisted log lines
func (m *MemoryStore) Logs() []BotLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BotLog(nil), m.logs...)
}
