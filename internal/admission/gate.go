// Package admission decides whether a persisted signal may be executed
// and drives its execution.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/ledger"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"
	"smc-trading-bot/internal/retry"
	"smc-trading-bot/internal/risk"
)

// State of a signal in the admission state machine
type State string

const (
	StateProposed State = "proposed"
	StateRejected State = "rejected"
	StateAdmitted State = "admitted"
	StateExecuted State = "executed"
	StateOpen     State = "open"
	StateClosed   State = "closed"
)

// Reason names the check that rejected a signal
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotValid        Reason = "not_valid"
	ReasonBadDirection    Reason = "invalid_direction"
	ReasonOutsideWindow   Reason = "outside_window"
	ReasonDailyLimit      Reason = "daily_limit"
	ReasonMissingPrices   Reason = "missing_prices"
	ReasonRRTooLow        Reason = "rr_too_low"
	ReasonDuplicateOpen   Reason = "duplicate_open"
	ReasonDuplicateRecent Reason = "duplicate_recent"
	ReasonSizingFailed    Reason = "sizing_failed"
	ReasonOrderRejected   Reason = "order_rejected"
	ReasonLedgerFailed    Reason = "ledger_failed"
	// ReasonUnavailable means a check could not run because the store or
	// the broker did not answer
	ReasonUnavailable Reason = "dependency_unavailable"
)

// Outcome is the result of evaluating or executing a signal
type Outcome struct {
	State  State
	Reason Reason
	Detail string
	Err    error

	RR     float64
	Sizing risk.Sizing
	Order  broker.OrderResult
	Trade  *database.Trade
}

// Rejected reports a terminal rejection
func (o Outcome) Rejected() bool { return o.State == StateRejected }

func reject(reason Reason, detail string, err error) Outcome {
	return Outcome{State: StateRejected, Reason: reason, Detail: detail, Err: err}
}

// Store is the persistence the gate reads and marks
type Store interface {
	GetDailyCount(ctx context.Context, asset, date string) (int, error)
	HasOpenTrade(ctx context.Context, asset, direction string) (bool, error)
	RecentExecutedSignal(ctx context.Context, asset, direction, sweepLevel string, since time.Time) (bool, error)
	MarkSignalExecuted(ctx context.Context, id int64) error
}

// Broker is the venue surface the gate uses
type Broker interface {
	GetCurrentPrice(ctx context.Context, symbol string) (broker.Quote, error)
	GetAccountInfo(ctx context.Context) (broker.AccountInfo, error)
	GetSymbolMeta(ctx context.Context, symbol string) (broker.SymbolMeta, error)
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error)
}

// Config holds the admission thresholds
type Config struct {
	Window          config.SessionWindow
	Location        *time.Location
	MaxTradesPerDay int
	MinRR           float64
	DedupWindow     time.Duration
	RiskPerTrade    float64
	DryRun          bool
	Magic           int64
	Deviation       int
}

// ConfigFrom extracts the gate settings from the bot configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Window:          config.MustSessionWindow(cfg.Sessions.Execution),
		Location:        cfg.Location(),
		MaxTradesPerDay: cfg.Risk.MaxTradesPerDay,
		MinRR:           cfg.Risk.MinRR,
		DedupWindow:     cfg.DedupWindow(),
		RiskPerTrade:    cfg.Risk.RiskPerTrade,
		DryRun:          cfg.Trading.DryRun,
		Magic:           cfg.Broker.Magic,
		Deviation:       cfg.Broker.Deviation,
	}
}

// OrderComment tags every order the bot places
const OrderComment = "smc-bot"

// Gate runs the ordered admission checks and executes admitted signals
type Gate struct {
	cfg    Config
	store  Store
	broker Broker
	ledger *ledger.Ledger
	sizer  *risk.Sizer
	retry  *retry.Policy
	bus    *events.EventBus
	logger *logging.Logger
}

// NewGate creates a gate. policy wraps store and broker reads; order
// placement is never retried.
func NewGate(cfg Config, store Store, b Broker, l *ledger.Ledger, policy *retry.Policy, bus *events.EventBus, logger *logging.Logger) *Gate {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	if policy == nil {
		policy = retry.NewPolicy("admission", 1, nil, logger)
	}
	return &Gate{
		cfg:    cfg,
		store:  store,
		broker: b,
		ledger: l,
		sizer:  risk.NewSizer(cfg.RiskPerTrade),
		retry:  policy,
		bus:    bus,
		logger: logger.WithComponent("admission"),
	}
}

// Evaluate runs checks 1 to 7 in order and stops at the first failure
func (g *Gate) Evaluate(ctx context.Context, sig *database.Signal, now time.Time) Outcome {
	out := g.evaluate(ctx, sig, now)
	if out.Rejected() {
		g.rejected(sig, out)
	}
	return out
}

func (g *Gate) evaluate(ctx context.Context, sig *database.Signal, now time.Time) Outcome {
	// 1. the oracle must call it valid
	if !sig.TradeValid {
		return reject(ReasonNotValid, sig.Reason, nil)
	}
	if _, ok := orderDirection(sig.Direction); !ok {
		return reject(ReasonBadDirection, fmt.Sprintf("direction %q", sig.Direction), nil)
	}

	// 2. execution window, both ends inclusive
	local := now.In(g.cfg.Location)
	if !g.cfg.Window.ContainsInclusive(local) {
		return reject(ReasonOutsideWindow, fmt.Sprintf("%s not in %s", local.Format("15:04"), g.cfg.Window), nil)
	}

	// 3. daily limit for today
	date := local.Format(levels.DateLayout)
	count, err := retry.Do(ctx, g.retry, "daily-count", func(ctx context.Context) (int, error) {
		return g.store.GetDailyCount(ctx, sig.Asset, date)
	})
	if err != nil {
		return reject(ReasonUnavailable, "daily count", err)
	}
	if count >= g.cfg.MaxTradesPerDay {
		return reject(ReasonDailyLimit, fmt.Sprintf("%d/%d trades closed on %s", count, g.cfg.MaxTradesPerDay, date), nil)
	}

	// 4. prices
	if sig.EntryPrice == nil || sig.SLPrice == nil || sig.TPPrice == nil {
		return reject(ReasonMissingPrices, "", nil)
	}
	entry, sl, tp := *sig.EntryPrice, *sig.SLPrice, *sig.TPPrice

	// 5. reward:risk
	rr, err := risk.RewardRisk(entry, sl, tp)
	if err != nil {
		return reject(ReasonSizingFailed, err.Error(), err)
	}
	if rr < g.cfg.MinRR {
		return reject(ReasonRRTooLow, fmt.Sprintf("rr %.2f < %.2f", rr, g.cfg.MinRR), nil)
	}

	// 6. duplicates
	open, err := retry.Do(ctx, g.retry, "open-trade", func(ctx context.Context) (bool, error) {
		return g.store.HasOpenTrade(ctx, sig.Asset, sig.Direction)
	})
	if err != nil {
		return reject(ReasonUnavailable, "open trades", err)
	}
	if open {
		return reject(ReasonDuplicateOpen, fmt.Sprintf("%s %s already open", sig.Asset, sig.Direction), nil)
	}

	sweep := sig.SweepLevel
	if sweep == "none" {
		sweep = ""
	}
	since := now.Add(-g.cfg.DedupWindow)
	recent, err := retry.Do(ctx, g.retry, "recent-signal", func(ctx context.Context) (bool, error) {
		return g.store.RecentExecutedSignal(ctx, sig.Asset, sig.Direction, sweep, since)
	})
	if err != nil {
		return reject(ReasonUnavailable, "recent signals", err)
	}
	if recent {
		return reject(ReasonDuplicateRecent, fmt.Sprintf("executed within %s", g.cfg.DedupWindow), nil)
	}

	// 7. sizing
	acct, err := retry.Do(ctx, g.retry, "account", g.broker.GetAccountInfo)
	if err != nil {
		return reject(ReasonUnavailable, "account", err)
	}
	meta, err := retry.Do(ctx, g.retry, "symbol-meta", func(ctx context.Context) (broker.SymbolMeta, error) {
		return g.broker.GetSymbolMeta(ctx, sig.Asset)
	})
	if err != nil {
		return reject(ReasonUnavailable, "symbol meta", err)
	}
	sizing, err := g.sizer.Size(acct.Balance, entry, sl, meta)
	if err != nil {
		return reject(ReasonSizingFailed, err.Error(), err)
	}

	return Outcome{State: StateAdmitted, RR: rr, Sizing: sizing}
}

// Execute places the order for an admitted signal, records the trade and
// marks the signal executed
func (g *Gate) Execute(ctx context.Context, sig *database.Signal, admitted Outcome, now time.Time) Outcome {
	if admitted.State != StateAdmitted {
		return admitted
	}
	log := logging.TradeContext(g.logger, sig.Asset, sig.Direction, admitted.Sizing.Lot, *sig.EntryPrice)

	dir, ok := orderDirection(sig.Direction)
	if !ok {
		out := reject(ReasonBadDirection, fmt.Sprintf("direction %q", sig.Direction), nil)
		g.rejected(sig, out)
		return out
	}
	quote, err := retry.Do(ctx, g.retry, "quote", func(ctx context.Context) (broker.Quote, error) {
		return g.broker.GetCurrentPrice(ctx, sig.Asset)
	})
	if err != nil {
		out := reject(ReasonUnavailable, "quote", err)
		g.rejected(sig, out)
		return out
	}
	price := quote.Ask
	if dir == broker.Short {
		price = quote.Bid
	}

	res, err := g.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:    sig.Asset,
		Direction: dir,
		Volume:    admitted.Sizing.Lot,
		Price:     price,
		SL:        *sig.SLPrice,
		TP:        *sig.TPPrice,
		Deviation: g.cfg.Deviation,
		Magic:     g.cfg.Magic,
		Comment:   OrderComment,
	})
	if err != nil {
		out := reject(ReasonOrderRejected, err.Error(), err)
		var orderErr *broker.OrderError
		if !errors.As(err, &orderErr) {
			g.bus.PublishError("admission", "broker", err)
		}
		g.rejected(sig, out)
		return out
	}
	log.Info("order filled", "ticket", res.Ticket, "fill_price", res.Price)

	out := admitted
	out.State = StateExecuted
	out.Order = res

	trade, ledgerErr := g.ledger.Open(ctx, sig, res, admitted.Sizing.Lot, now)

	// marked even without a ledger row so dedup still sees the fill
	if err := g.retry.Do(ctx, "mark-executed", func(ctx context.Context) error {
		return g.store.MarkSignalExecuted(ctx, sig.ID)
	}); err != nil {
		log.Error("failed to mark signal executed", "signal_id", sig.ID, "error", err)
	} else {
		sig.Executed = true
	}

	if ledgerErr != nil {
		log.Error("order filled but trade not recorded", "ticket", res.Ticket, "error", ledgerErr)
		g.bus.PublishError("admission", "ledger", ledgerErr)
		out = reject(ReasonLedgerFailed, ledgerErr.Error(), ledgerErr)
		out.Order = res
		g.rejected(sig, out)
		return out
	}
	out.Trade = trade

	out.State = StateOpen
	return out
}

// Process evaluates sig and, unless running dry, executes it
func (g *Gate) Process(ctx context.Context, sig *database.Signal, now time.Time) Outcome {
	out := g.Evaluate(ctx, sig, now)
	if out.State != StateAdmitted {
		return out
	}
	if g.cfg.DryRun {
		g.logger.Info("dry run: signal admitted, order not placed",
			"signal_id", sig.ID, "asset", sig.Asset, "direction", sig.Direction,
			"lot", out.Sizing.Lot, "rr", out.RR)
		return out
	}
	return g.Execute(ctx, sig, out, now)
}

func (g *Gate) rejected(sig *database.Signal, out Outcome) {
	kv := []interface{}{"signal_id", sig.ID, "asset", sig.Asset, "direction", sig.Direction, "reason", string(out.Reason)}
	if out.Detail != "" {
		kv = append(kv, "detail", out.Detail)
	}
	if out.Err != nil {
		kv = append(kv, "error", out.Err)
	}
	if out.Reason == ReasonUnavailable || out.Reason == ReasonLedgerFailed {
		g.logger.Warn("signal rejected", kv...)
	} else {
		g.logger.Info("signal rejected", kv...)
	}
	g.bus.PublishAdmissionRejected(sig.ID, sig.Asset, string(out.Reason))
}

// orderDirection maps a signal direction to an order side. Only long and
// short are tradable.
func orderDirection(d string) (broker.Direction, bool) {
	switch d {
	case database.DirectionLong:
		return broker.Long, true
	case database.DirectionShort:
		return broker.Short, true
	}
	return "", false
}
