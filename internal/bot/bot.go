package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/admission"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/circuit"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"
	"smc-trading-bot/internal/reconcile"
	"smc-trading-bot/internal/retry"
	"smc-trading-bot/internal/signal"
)

// BotState keys
const (
	StatePaused        = "bot_paused"
	StateLastReconcile = "last_reconcile"
	cursorPrefix       = "last_analyzed_"
)

// CursorKey is the BotState key holding asset's last analyzed bar
func CursorKey(asset string) string { return cursorPrefix + asset }

// Store is the durable state the orchestrator reads and writes
type Store interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	GetDailyCount(ctx context.Context, asset, date string) (int, error)
}

// Market is the broker surface used by the analysis loop
type Market interface {
	GetCandles(ctx context.Context, symbol string, count int) ([]broker.Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (broker.Quote, error)
}

// LevelSource returns the day's levels for an asset
type LevelSource interface {
	Get(ctx context.Context, asset string, now time.Time) (levels.LevelSet, error)
}

// SignalRunner produces and persists one signal per call
type SignalRunner interface {
	Run(ctx context.Context, in signal.Input) (*database.Signal, error)
}

// Admitter gates and executes a valid signal
type Admitter interface {
	Process(ctx context.Context, sig *database.Signal, now time.Time) admission.Outcome
}

// Reconciler settles trades the broker no longer holds
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Config holds the loop settings
type Config struct {
	Assets            []string
	Location          *time.Location
	Window            config.SessionWindow
	AnalysisInterval  time.Duration
	ReconcileInterval time.Duration
	CandlesAnalysis   int
	MaxTradesPerDay   int
}

// ConfigFrom extracts the loop settings from the bot configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Assets:            cfg.Trading.Assets,
		Location:          cfg.Location(),
		Window:            config.MustSessionWindow(cfg.Sessions.Execution),
		AnalysisInterval:  cfg.AnalysisInterval(),
		ReconcileInterval: cfg.MonitorInterval(),
		CandlesAnalysis:   cfg.Trading.CandlesAnalysis,
		MaxTradesPerDay:   cfg.Risk.MaxTradesPerDay,
	}
}

// Deps groups the collaborators of the orchestrator
type Deps struct {
	Store      Store
	Market     Market
	Levels     LevelSource
	Pipeline   SignalRunner
	Gate       Admitter
	Reconciler Reconciler
	Breaker    *circuit.Breaker
	Retry      *retry.Policy
	Bus        *events.EventBus
	Logger     *logging.Logger
}

// assetState is owned by the analysis loop
type assetState struct {
	cursor     time.Time
	lastSignal int64
	lastError  string
}

// Orchestrator runs the analysis and reconciliation loops
type Orchestrator struct {
	cfg Config
	Deps

	assets map[string]*assetState

	mu            sync.RWMutex
	running       bool
	lastCycle     time.Duration
	lastCycleAt   time.Time
	lastReconcile reconcile.Report
	reconciledAt  time.Time

	reconcileMu sync.Mutex
	trigger     chan struct{}
	stopChan    chan struct{}
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates an orchestrator. Breaker and Retry may be nil.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = 10 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.CandlesAnalysis <= 0 {
		cfg.CandlesAnalysis = 20
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	deps.Logger = deps.Logger.WithComponent("bot")
	if deps.Retry == nil {
		deps.Retry = retry.NewPolicy("bot", 1, nil, deps.Logger)
	}
	if deps.Breaker == nil {
		deps.Breaker = circuit.NewBreaker(circuit.Config{Enabled: false})
	}

	o := &Orchestrator{
		cfg:     cfg,
		Deps:    deps,
		assets:  make(map[string]*assetState, len(cfg.Assets)),
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	for _, a := range cfg.Assets {
		o.assets[a] = &assetState{}
	}
	return o
}

// Start runs both loops until Stop is called
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	o.running = true
	o.stopChan = make(chan struct{})
	o.mu.Unlock()

	o.restoreCursors(ctx)

	o.Logger.Info("bot started",
		"assets", o.cfg.Assets,
		"analysis_interval", o.cfg.AnalysisInterval,
		"reconcile_interval", o.cfg.ReconcileInterval,
		"window", o.cfg.Window.String())

	// Stop ends retry backoffs at once. Calls already in flight finish.
	loopCtx := retry.WithStop(ctx, o.stopChan)
	o.wg.Add(2)
	go o.analysisLoop(loopCtx)
	go o.reconcileLoop(loopCtx)
	return nil
}

// Stop signals both loops and waits for their current iteration. A retry
// backoff in progress is abandoned.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopChan)
	o.mu.Unlock()

	o.wg.Wait()
	o.Logger.Info("bot stopped")
}

func (o *Orchestrator) analysisLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.AnalysisInterval)
	defer ticker.Stop()

	o.AnalysisCycle(ctx)
	for {
		select {
		case <-ticker.C:
			o.AnalysisCycle(ctx)
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()

	o.ReconcileCycle(ctx)
	for {
		select {
		case <-ticker.C:
			o.ReconcileCycle(ctx)
		case <-o.trigger:
			o.ReconcileCycle(ctx)
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// AnalysisCycle analyses every asset once, sequentially
func (o *Orchestrator) AnalysisCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		o.mu.Lock()
		o.lastCycle, o.lastCycleAt = d, o.now()
		o.mu.Unlock()
		o.Bus.PublishCycleCompleted("analysis", d)
	}()

	if o.IsPaused(ctx) {
		o.Logger.Debug("bot paused, analysis skipped")
		return
	}
	if ok, reason := o.Breaker.Allow(); !ok {
		o.Logger.Warn("analysis skipped", "reason", reason)
		return
	}

	for _, asset := range o.cfg.Assets {
		if ctx.Err() != nil {
			return
		}
		o.analyzeSafely(ctx, asset)
	}
}

// analyzeSafely isolates one asset's failure from the rest of the cycle
func (o *Orchestrator) analyzeSafely(ctx context.Context, asset string) {
	ctx, log := logging.WithTraceContext(ctx, logging.AssetContext(o.Logger, asset))
	state := o.assets[asset]

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panicked", "panic", fmt.Sprint(r))
			o.setError(state, fmt.Sprint(r))
			o.Bus.PublishError("bot", "panic", fmt.Errorf("%v", r))
		}
	}()

	if err := o.analyzeAsset(ctx, asset, state); err != nil {
		log.Error("analysis failed", "error", err)
		o.setError(state, err.Error())
		return
	}
	o.setError(state, "")
}

func (o *Orchestrator) setError(state *assetState, msg string) {
	o.mu.Lock()
	state.lastError = msg
	o.mu.Unlock()
}

func (o *Orchestrator) analyzeAsset(ctx context.Context, asset string, state *assetState) error {
	log := logging.FromContext(ctx)

	candles, err := retry.Do(ctx, o.Retry, "candles", func(ctx context.Context) ([]broker.Candle, error) {
		return o.Market.GetCandles(ctx, asset, o.cfg.CandlesAnalysis)
	})
	if err != nil {
		o.Breaker.RecordFailure(err)
		return fmt.Errorf("error fetching candles: %w", err)
	}
	o.Breaker.RecordSuccess()
	if len(candles) == 0 {
		log.Debug("no candles yet")
		return nil
	}

	bar := candles[len(candles)-1].Time
	if bar.Equal(state.cursor) {
		return nil
	}

	now := o.now().In(o.cfg.Location)
	if !o.cfg.Window.ContainsInclusive(now) {
		log.Debug("outside execution window", "time", now.Format("15:04"))
		return o.setCursor(ctx, asset, state, bar)
	}

	date := now.Format(levels.DateLayout)
	count, err := retry.Do(ctx, o.Retry, "daily-count", func(ctx context.Context) (int, error) {
		return o.Store.GetDailyCount(ctx, asset, date)
	})
	if err != nil {
		return fmt.Errorf("error reading daily count: %w", err)
	}
	if count >= o.cfg.MaxTradesPerDay {
		log.Debug("daily trade limit reached", "count", count, "max", o.cfg.MaxTradesPerDay)
		return o.setCursor(ctx, asset, state, bar)
	}

	quote, err := retry.Do(ctx, o.Retry, "quote", func(ctx context.Context) (broker.Quote, error) {
		return o.Market.GetCurrentPrice(ctx, asset)
	})
	if err != nil {
		o.Breaker.RecordFailure(err)
		return fmt.Errorf("error fetching price: %w", err)
	}
	price := quote.Bid
	o.Bus.PublishPriceUpdate(asset, price)

	set, err := o.Levels.Get(ctx, asset, now)
	if err != nil {
		return fmt.Errorf("error loading levels: %w", err)
	}

	sig, err := o.Pipeline.Run(ctx, signal.Input{
		Asset:      asset,
		Now:        now,
		Candles:    candles,
		Price:      price,
		Levels:     set,
		DailyCount: count,
		MaxDaily:   o.cfg.MaxTradesPerDay,
	})
	if err != nil {
		return err
	}
	o.mu.Lock()
	state.lastSignal = sig.ID
	o.mu.Unlock()

	if sig.TradeValid {
		out := o.Gate.Process(ctx, sig, now)
		log.Info("admission outcome", "signal_id", sig.ID, "state", string(out.State), "reason", string(out.Reason))
	}

	return o.setCursor(ctx, asset, state, bar)
}

func (o *Orchestrator) setCursor(ctx context.Context, asset string, state *assetState, bar time.Time) error {
	o.mu.Lock()
	state.cursor = bar
	o.mu.Unlock()
	err := o.Retry.Do(ctx, "set-cursor", func(ctx context.Context) error {
		return o.Store.SetState(ctx, CursorKey(asset), bar.UTC().Format(time.RFC3339))
	})
	if err != nil {
		return fmt.Errorf("error saving cursor: %w", err)
	}
	return nil
}

// restoreCursors loads the last analyzed bar of every asset
func (o *Orchestrator) restoreCursors(ctx context.Context) {
	for asset, state := range o.assets {
		raw, ok, err := o.Store.GetState(ctx, CursorKey(asset))
		if err != nil {
			o.Logger.Warn("cursor not restored", "asset", asset, "error", err)
			continue
		}
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			o.Logger.Warn("invalid cursor in state", "asset", asset, "value", raw)
			continue
		}
		state.cursor = t
	}
}

// ReconcileCycle runs one reconciliation pass. Concurrent calls are
// serialized.
func (o *Orchestrator) ReconcileCycle(ctx context.Context) {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	start := time.Now()
	report, err := o.Reconciler.Run(ctx)
	o.Bus.PublishCycleCompleted("reconcile", time.Since(start))
	if err != nil {
		o.Logger.Error("reconciliation failed", "error", err)
		o.Bus.PublishError("reconcile", "broker", err)
		return
	}

	now := o.now()
	o.mu.Lock()
	o.lastReconcile, o.reconciledAt = report, now
	o.mu.Unlock()

	if report.Closed > 0 || report.Ambiguous > 0 {
		o.Logger.Info("reconciliation pass",
			"checked", report.Checked, "closed", report.Closed,
			"ambiguous", report.Ambiguous, "failed", report.Failed)
	}
	if err := o.Store.SetState(ctx, StateLastReconcile, now.UTC().Format(time.RFC3339)); err != nil {
		o.Logger.Warn("failed to record reconcile time", "error", err)
	}
}

// TriggerReconcile asks the reconcile loop for an immediate pass. It
// returns false when a request is already pending.
func (o *Orchestrator) TriggerReconcile() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// IsPaused reads the pause flag from the store
func (o *Orchestrator) IsPaused(ctx context.Context) bool {
	v, ok, err := o.Store.GetState(ctx, StatePaused)
	if err != nil {
		o.Logger.Warn("pause flag unreadable", "error", err)
		return false
	}
	return ok && v == "true"
}

// Pause stops analysis cycles until Resume. Reconciliation keeps running.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if err := o.Store.SetState(ctx, StatePaused, "true"); err != nil {
		return fmt.Errorf("error pausing bot: %w", err)
	}
	o.Logger.Info("bot paused")
	o.Bus.Publish(events.Event{Type: events.EventBotPaused})
	return nil
}

// Resume re-enables analysis cycles. It also closes an open circuit
// breaker so an operator resume takes effect on the next cycle.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if err := o.Store.SetState(ctx, StatePaused, "false"); err != nil {
		return fmt.Errorf("error resuming bot: %w", err)
	}
	o.Breaker.ForceReset()
	o.Logger.Info("bot resumed")
	o.Bus.Publish(events.Event{Type: events.EventBotResumed})
	return nil
}

// AssetStatus is one asset's view in Status
type AssetStatus struct {
	Cursor     *time.Time `json:"last_analyzed,omitempty"`
	LastSignal int64      `json:"last_signal_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Status is the orchestrator snapshot served by the API
type Status struct {
	Running        bool                   `json:"running"`
	Paused         bool                   `json:"paused"`
	Assets         map[string]AssetStatus `json:"assets"`
	LastCycleMs    int64                  `json:"last_cycle_ms"`
	LastCycleAt    *time.Time             `json:"last_cycle_at,omitempty"`
	LastReconcile  reconcile.Report       `json:"last_reconcile"`
	ReconciledAt   *time.Time             `json:"reconciled_at,omitempty"`
	CircuitBreaker map[string]interface{} `json:"circuit_breaker"`
}

// Status reports the loops' state
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.RLock()
	st := Status{
		Running:        o.running,
		LastCycleMs:    o.lastCycle.Milliseconds(),
		LastReconcile:  o.lastReconcile,
		CircuitBreaker: o.Breaker.GetStats(),
		Assets:         make(map[string]AssetStatus, len(o.assets)),
	}
	if !o.lastCycleAt.IsZero() {
		t := o.lastCycleAt
		st.LastCycleAt = &t
	}
	if !o.reconciledAt.IsZero() {
		t := o.reconciledAt
		st.ReconciledAt = &t
	}
	for asset, state := range o.assets {
		as := AssetStatus{LastSignal: state.lastSignal, LastError: state.lastError}
		if !state.cursor.IsZero() {
			c := state.cursor
			as.Cursor = &c
		}
		st.Assets[asset] = as
	}
	o.mu.RUnlock()

	st.Paused = o.IsPaused(ctx)
	return st
}
