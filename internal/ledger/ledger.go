// Package ledger owns the trade lifecycle: creation after a fill and the
// single terminal close with its aggregate updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"
)

// UnknownPattern is the pattern key of a trade without a usable signal
const UnknownPattern = "unknown"

// Store is the persistence the ledger needs
type Store interface {
	GetSignal(ctx context.Context, id int64) (*database.Signal, error)
	CreateTrade(ctx context.Context, trade *database.Trade) error
	CloseTrade(ctx context.Context, id int64, c database.TradeClose) error
	IncrementDailyCount(ctx context.Context, asset, date string) (int, error)
	UpdatePerformanceStat(ctx context.Context, u database.StatUpdate) (*database.PerformanceStat, error)
}

// Ledger records trades and their close
type Ledger struct {
	store  Store
	loc    *time.Location
	bus    *events.EventBus
	logger *logging.Logger
}

// New creates a ledger. Close dates are taken in loc.
func New(store Store, loc *time.Location, bus *events.EventBus, logger *logging.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		store:  store,
		loc:    loc,
		bus:    bus,
		logger: logger.WithComponent("ledger"),
	}
}

// Open records the trade created by a successful order for sig
func (l *Ledger) Open(ctx context.Context, sig *database.Signal, res broker.OrderResult, lot float64, now time.Time) (*database.Trade, error) {
	if sig.EntryPrice == nil || sig.SLPrice == nil || sig.TPPrice == nil {
		return nil, fmt.Errorf("signal %d has no prices", sig.ID)
	}

	entry := *sig.EntryPrice
	if res.Price > 0 {
		entry = res.Price
	}
	if res.Volume > 0 {
		lot = res.Volume
	}

	signalID := sig.ID
	trade := &database.Trade{
		SignalID:   &signalID,
		Asset:      sig.Asset,
		Direction:  sig.Direction,
		EntryPrice: entry,
		SLPrice:    *sig.SLPrice,
		TPPrice:    *sig.TPPrice,
		LotSize:    lot,
		Status:     database.TradeStatusOpen,
		EntryTime:  now,
	}
	if res.Ticket != 0 {
		ticket := res.Ticket
		trade.BrokerTicket = &ticket
	}

	if err := l.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("error recording trade: %w", err)
	}

	logging.TradeContext(l.logger, trade.Asset, trade.Direction, trade.LotSize, trade.EntryPrice).
		Info("trade opened", "trade_id", trade.ID, "ticket", res.Ticket, "sl", trade.SLPrice, "tp", trade.TPPrice)
	l.bus.PublishTradeOpened(trade.ID, trade.Asset, trade.Direction, trade.EntryPrice, trade.SLPrice, trade.TPPrice, trade.LotSize, res.Ticket)
	return trade, nil
}

// Close is the only path to status=closed. A trade that is no longer open
// returns database.ErrAlreadyClosed and touches no aggregate.
func (l *Ledger) Close(ctx context.Context, trade *database.Trade, exit, pnl float64, reason string, closedAt time.Time) error {
	err := l.store.CloseTrade(ctx, trade.ID, database.TradeClose{
		ExitPrice: exit,
		PnL:       pnl,
		Reason:    reason,
		ClosedAt:  closedAt,
	})
	if err != nil {
		if errors.Is(err, database.ErrAlreadyClosed) {
			l.logger.Debug("trade already closed", "trade_id", trade.ID)
			return err
		}
		return fmt.Errorf("error closing trade %d: %w", trade.ID, err)
	}

	log := l.logger.WithFields(map[string]interface{}{"trade_id": trade.ID, "asset": trade.Asset})
	date := closedAt.In(l.loc).Format(levels.DateLayout)
	count, err := l.store.IncrementDailyCount(ctx, trade.Asset, date)
	if err != nil {
		log.Error("failed to increment daily count", "date", date, "error", err)
	}

	rr := RealizedRR(trade, exit)
	key := l.patternKey(ctx, trade)
	if _, err := l.store.UpdatePerformanceStat(ctx, database.StatUpdate{
		PatternKey: key,
		Asset:      trade.Asset,
		Win:        reason == database.CloseReasonTP,
		RR:         rr,
		PnL:        pnl,
	}); err != nil {
		log.Error("failed to update performance stats", "pattern", key, "error", err)
	}

	log.Info("trade closed", "reason", reason, "exit", exit, "pnl", pnl, "rr", rr, "pattern", key, "daily_count", count)
	l.bus.PublishTradeClosed(trade.ID, trade.Asset, trade.Direction, reason, trade.EntryPrice, exit, pnl, rr)
	return nil
}

func (l *Ledger) patternKey(ctx context.Context, trade *database.Trade) string {
	if trade.SignalID == nil {
		return UnknownPattern
	}
	sig, err := l.store.GetSignal(ctx, *trade.SignalID)
	if err != nil {
		l.logger.Warn("signal lookup failed for pattern key", "signal_id", *trade.SignalID, "error", err)
		return UnknownPattern
	}
	return PatternKey(sig.ConfluencesUsed)
}

// PatternKey joins the sorted confluences with "+"
func PatternKey(confluences []string) string {
	if len(confluences) == 0 {
		return UnknownPattern
	}
	sorted := append([]string(nil), confluences...)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}

// RealizedRR is the signed R multiple of a close: the price move in the
// trade's favour divided by the initial stop distance. Losses are negative.
func RealizedRR(trade *database.Trade, exit float64) float64 {
	risk := math.Abs(trade.EntryPrice - trade.SLPrice)
	if risk == 0 {
		return 0
	}
	move := exit - trade.EntryPrice
	if trade.Direction == database.DirectionShort {
		move = -move
	}
	return math.Round(move/risk*100) / 100
}
