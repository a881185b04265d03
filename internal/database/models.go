package database

import (
	"time"
)

// Direction values
const (
	DirectionLong  = "long"
	DirectionShort = "short"
	DirectionNone  = "none"
)

// Trade status values
const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Close reasons
const (
	CloseReasonTP     = "tp"
	CloseReasonSL     = "sl"
	CloseReasonManual = "manual"
)

// Signal is a normalized oracle proposal. It is stored once; only
// Executed changes afterwards.
type Signal struct {
	ID              int64     `json:"id"`
	Asset           string    `json:"asset"`
	Direction       string    `json:"direction"`
	Scenario        string    `json:"scenario"`
	Confidence      int       `json:"confidence"`
	EntryPrice      *float64  `json:"entry_price"`
	SLPrice         *float64  `json:"sl_price"`
	TPPrice         *float64  `json:"tp_price"`
	RRRatio         *float64  `json:"rr_ratio"`
	ConfluencesUsed []string  `json:"confluences_used"`
	SweepLevel      string    `json:"sweep_level"`
	NewsSentiment   string    `json:"news_sentiment"`
	SocialSentiment string    `json:"social_sentiment"`
	TradeValid      bool      `json:"trade_valid"`
	Reason          string    `json:"reason"`
	LLMUsed         string    `json:"llm_used"`
	RawResponse     string    `json:"raw_response,omitempty"`
	Executed        bool      `json:"executed"`
	CreatedAt       time.Time `json:"created_at"`
}

// Trade is an executed position
type Trade struct {
	ID           int64      `json:"id"`
	SignalID     *int64     `json:"signal_id,omitempty"`
	Asset        string     `json:"asset"`
	Direction    string     `json:"direction"`
	EntryPrice   float64    `json:"entry_price"`
	SLPrice      float64    `json:"sl_price"`
	TPPrice      float64    `json:"tp_price"`
	LotSize      float64    `json:"lot_size"`
	BrokerTicket *int64     `json:"broker_ticket,omitempty"`
	Status       string     `json:"status"`
	ExitPrice    *float64   `json:"exit_price,omitempty"`
	PnL          *float64   `json:"pnl,omitempty"`
	ClosedReason *string    `json:"closed_reason,omitempty"`
	EntryTime    time.Time  `json:"entry_time"`
	ExitTime     *time.Time `json:"exit_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsOpen reports whether the trade is still open
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// TradeClose is the terminal transition of a trade
type TradeClose struct {
	ExitPrice float64
	PnL       float64
	Reason    string
	ClosedAt  time.Time
}

// DailyCounter counts trades closed per asset and calendar day
type DailyCounter struct {
	Asset       string `json:"asset"`
	Date        string `json:"date"` // YYYY-MM-DD in the trading timezone
	ClosedCount int    `json:"closed_count"`
}

// PerformanceStat aggregates outcomes per confluence combination and asset
type PerformanceStat struct {
	PatternKey    string    `json:"pattern_key"`
	Asset         string    `json:"asset"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	AvgRR         float64   `json:"avg_rr"`
	TotalPnL      float64   `json:"total_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatUpdate is one closed trade's contribution to a PerformanceStat
type StatUpdate struct {
	PatternKey string
	Asset      string
	Win        bool
	RR         float64
	PnL        float64
}

// apply folds u into s
func (s *PerformanceStat) apply(u StatUpdate, now time.Time) {
	old := s.TotalTrades
	s.TotalTrades++
	if u.Win {
		s.WinningTrades++
	} else {
		s.LosingTrades++
	}
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	s.AvgRR = (s.AvgRR*float64(old) + u.RR) / float64(s.TotalTrades)
	s.TotalPnL += u.PnL
	s.UpdatedAt = now
}

// BotLog is a persisted log line
type BotLog struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SignalFilter narrows ListSignals
type SignalFilter struct {
	Asset string
	Limit int
}

// TradeFilter narrows ListTrades
type TradeFilter struct {
	Asset  string
	Status string
	Limit  int
}

// DefaultListLimit caps list queries without an explicit limit
const DefaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
