package database

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyClosed is returned when closing a trade that is not open
	ErrAlreadyClosed = errors.New("trade already closed")
)

// Store is the persistence contract of the bot. Every call is atomic on
// its own; callers never rely on cross-call transactions.
type Store interface {
	HealthCheck(ctx context.Context) error

	SaveSignal(ctx context.Context, sig *Signal) error
	GetSignal(ctx context.Context, id int64) (*Signal, error)
	MarkSignalExecuted(ctx context.Context, id int64) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]*Signal, error)
	// RecentExecutedSignal reports an executed signal for asset and
	// direction created at or after since. An empty sweepLevel matches
	// any level.
	RecentExecutedSignal(ctx context.Context, asset, direction, sweepLevel string, since time.Time) (bool, error)

	CreateTrade(ctx context.Context, trade *Trade) error
	// CloseTrade moves an open trade to closed. It returns
	// ErrAlreadyClosed when the trade is not open.
	CloseTrade(ctx context.Context, id int64, c TradeClose) error
	GetTrade(ctx context.Context, id int64) (*Trade, error)
	GetOpenTrades(ctx context.Context) ([]*Trade, error)
	HasOpenTrade(ctx context.Context, asset, direction string) (bool, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]*Trade, error)

	GetDailyCount(ctx context.Context, asset, date string) (int, error)
	IncrementDailyCount(ctx context.Context, asset, date string) (int, error)

	GetPerformanceStats(ctx context.Context, asset string) ([]PerformanceStat, error)
	UpdatePerformanceStat(ctx context.Context, u StatUpdate) (*PerformanceStat, error)

	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error

	SaveLog(ctx context.Context, level, message string) error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
