// Package reconcile diffs the ledger's open trades against the broker and
// drives the close of every trade the broker no longer holds.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/ledger"
	"smc-trading-bot/internal/logging"
	"smc-trading-bot/internal/retry"
)

const (
	DefaultPriceTolerance    = 0.001
	DefaultFallbackTolerance = 0.005
)

// Store is the ledger view the reconciler reads
type Store interface {
	GetOpenTrades(ctx context.Context) ([]*database.Trade, error)
}

// Broker is the venue state the reconciler compares against
type Broker interface {
	GetOpenPositions(ctx context.Context) ([]broker.Position, error)
	GetClosedDeals(ctx context.Context, since, until time.Time, symbol string) ([]broker.Deal, error)
}

// Config holds the matching tolerances, both relative to a price
type Config struct {
	PriceTolerance    float64
	FallbackTolerance float64
}

// Report summarizes one pass
type Report struct {
	Checked   int `json:"checked"`
	StillOpen int `json:"still_open"`
	Closed    int `json:"closed"`
	Ambiguous int `json:"ambiguous"`
	Failed    int `json:"failed"`
}

// Reconciler matches open trades to broker history
type Reconciler struct {
	cfg    Config
	store  Store
	broker Broker
	ledger *ledger.Ledger
	retry  *retry.Policy
	bus    *events.EventBus
	logger *logging.Logger

	now func() time.Time
}

// New creates a reconciler
func New(cfg Config, store Store, b Broker, l *ledger.Ledger, policy *retry.Policy, bus *events.EventBus, logger *logging.Logger) *Reconciler {
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = DefaultPriceTolerance
	}
	if cfg.FallbackTolerance <= 0 {
		cfg.FallbackTolerance = DefaultFallbackTolerance
	}
	if logger == nil {
		logger = logging.Default()
	}
	if policy == nil {
		policy = retry.NewPolicy("reconcile", 1, nil, logger)
	}
	return &Reconciler{
		cfg:    cfg,
		store:  store,
		broker: b,
		ledger: l,
		retry:  policy,
		bus:    bus,
		logger: logger.WithComponent("reconcile"),
		now:    time.Now,
	}
}

// closeMatch is the resolved exit of a trade
type closeMatch struct {
	exit   float64
	pnl    float64
	at     time.Time
	source string
}

// Run performs one reconciliation pass. An error means the pass could not
// start; per-trade failures are counted in the report and retried on the
// next pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report

	positions, err := retry.Do(ctx, r.retry, "open-positions", r.broker.GetOpenPositions)
	if err != nil {
		return report, fmt.Errorf("error fetching open positions: %w", err)
	}
	trades, err := retry.Do(ctx, r.retry, "open-trades", r.store.GetOpenTrades)
	if err != nil {
		return report, fmt.Errorf("error fetching open trades: %w", err)
	}

	live := make(map[int64]broker.Position, len(positions))
	for _, p := range positions {
		live[p.Ticket] = p
	}
	perAsset := make(map[string]int)
	for _, t := range trades {
		perAsset[t.Asset]++
	}

	for _, trade := range trades {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		if r.stillLive(trade, live, positions) {
			report.StillOpen++
			continue
		}

		match, err := r.findClose(ctx, trade, perAsset[trade.Asset] > 1)
		if err != nil {
			r.logger.Warn("deal history unavailable", "trade_id", trade.ID, "asset", trade.Asset, "error", err)
			report.Failed++
			continue
		}
		if match == nil {
			detail := "no closing deal matched"
			if perAsset[trade.Asset] > 1 && trade.BrokerTicket == nil {
				detail = fmt.Sprintf("no ticket and %d open trades on %s", perAsset[trade.Asset], trade.Asset)
			}
			r.logger.Warn("trade left open: close not resolved", "trade_id", trade.ID, "asset", trade.Asset, "detail", detail)
			r.bus.PublishReconcileAmbiguous(trade.ID, trade.Asset, detail)
			report.Ambiguous++
			continue
		}

		reason := CloseReason(trade, match.exit, match.pnl, r.cfg.PriceTolerance)
		err = r.ledger.Close(ctx, trade, match.exit, match.pnl, reason, match.at)
		switch {
		case errors.Is(err, database.ErrAlreadyClosed):
			r.logger.Debug("trade closed concurrently", "trade_id", trade.ID)
		case err != nil:
			r.logger.Error("failed to close trade", "trade_id", trade.ID, "error", err)
			report.Failed++
		default:
			r.logger.Info("trade reconciled", "trade_id", trade.ID, "asset", trade.Asset,
				"reason", reason, "exit", match.exit, "pnl", match.pnl, "matched_by", match.source)
			report.Closed++
		}
	}

	return report, nil
}

// stillLive reports whether the broker still holds the trade. A trade
// without a ticket is live while a same-side position on its symbol is.
func (r *Reconciler) stillLive(trade *database.Trade, live map[int64]broker.Position, positions []broker.Position) bool {
	if trade.BrokerTicket != nil {
		_, ok := live[*trade.BrokerTicket]
		return ok
	}
	for _, p := range positions {
		if p.Symbol == trade.Asset && string(p.Direction) == trade.Direction {
			return true
		}
	}
	return false
}

func (r *Reconciler) findClose(ctx context.Context, trade *database.Trade, shared bool) (*closeMatch, error) {
	since := trade.EntryTime.Add(-time.Minute)
	until := r.now().Add(time.Hour)
	deals, err := retry.Do(ctx, r.retry, "closed-deals", func(ctx context.Context) ([]broker.Deal, error) {
		return r.broker.GetClosedDeals(ctx, since, until, trade.Asset)
	})
	if err != nil {
		return nil, err
	}

	if trade.BrokerTicket != nil {
		if m := matchTicket(deals, *trade.BrokerTicket); m != nil {
			return m, nil
		}
	}
	// the fallback cannot tell same-instrument trades apart
	if shared {
		return nil, nil
	}
	return matchFallback(deals, trade.EntryPrice, r.cfg.FallbackTolerance), nil
}

// matchTicket aggregates every closing fill of the position: profit is
// summed and the exit is the volume-weighted price
func matchTicket(deals []broker.Deal, ticket int64) *closeMatch {
	var qty, weighted, pnl, exit float64
	var last time.Time
	fills := 0
	for _, d := range deals {
		if d.PositionID != ticket || d.Entry != broker.DealOut {
			continue
		}
		fills++
		exit = d.Price
		qty += d.Volume
		weighted += d.Price * d.Volume
		pnl += d.Profit
		if d.Time.After(last) {
			last = d.Time
		}
	}
	if fills == 0 {
		return nil
	}
	if fills > 1 && qty > 0 {
		exit = weighted / qty
	}
	return &closeMatch{exit: exit, pnl: math.Round(pnl*100) / 100, at: last, source: "ticket"}
}

// matchFallback picks the most recent closing deal priced within tol of entry
func matchFallback(deals []broker.Deal, entry, tol float64) *closeMatch {
	var best *broker.Deal
	for i := range deals {
		d := &deals[i]
		if d.Entry != broker.DealOut || entry == 0 {
			continue
		}
		if math.Abs(d.Price-entry)/entry > tol {
			continue
		}
		if best == nil || d.Time.After(best.Time) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	return &closeMatch{exit: best.Price, pnl: best.Profit, at: best.Time, source: "price"}
}

// CloseReason classifies an exit: tp or sl when the price is within tol of
// that level, otherwise the pnl sign decides, and a flat close is manual
func CloseReason(trade *database.Trade, exit, pnl, tol float64) string {
	if near(exit, trade.TPPrice, tol) {
		return database.CloseReasonTP
	}
	if near(exit, trade.SLPrice, tol) {
		return database.CloseReasonSL
	}
	switch {
	case pnl > 0:
		return database.CloseReasonTP
	case pnl < 0:
		return database.CloseReasonSL
	}
	return database.CloseReasonManual
}

func near(price, level, tol float64) bool {
	if level == 0 {
		return false
	}
	return math.Abs(price-level)/math.Abs(level) <= tol
}
