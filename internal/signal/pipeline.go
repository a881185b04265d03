package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smc-trading-bot/internal/ai/llm"
	"smc-trading-bot/internal/ai/sentiment"
	"smc-trading-bot/internal/analysis"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"
)

// Oracle turns a snapshot into a raw decision
type Oracle interface {
	Decide(ctx context.Context, snap llm.Snapshot) (raw string, provider string, err error)
}

// SentimentSource supplies news and social sentiment. It must not fail.
type SentimentSource interface {
	Get(ctx context.Context, asset string) sentiment.Result
}

// Store is the persistence the pipeline needs
type Store interface {
	SaveSignal(ctx context.Context, sig *database.Signal) error
	GetPerformanceStats(ctx context.Context, asset string) ([]database.PerformanceStat, error)
}

// Input is the market data gathered for one asset and one closed bar
type Input struct {
	Asset      string
	Now        time.Time // already in the trading timezone
	Candles    []broker.Candle
	Price      float64
	Levels     levels.LevelSet
	DailyCount int
	MaxDaily   int
}

// Pipeline assembles the snapshot, consults the oracle and persists the
// normalized signal
type Pipeline struct {
	detector  *analysis.Detector
	oracle    Oracle
	sentiment SentimentSource
	store     Store
	bus       *events.EventBus
	logger    *logging.Logger
}

// NewPipeline creates a pipeline. sentiment and bus may be nil.
func NewPipeline(detector *analysis.Detector, oracle Oracle, sent SentimentSource, store Store, bus *events.EventBus, logger *logging.Logger) *Pipeline {
	if detector == nil {
		detector = analysis.NewDetector()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		detector:  detector,
		oracle:    oracle,
		sentiment: sent,
		store:     store,
		bus:       bus,
		logger:    logger.WithComponent("signal"),
	}
}

// BuildSnapshot runs detection and gathers sentiment and history
func (p *Pipeline) BuildSnapshot(ctx context.Context, in Input) llm.Snapshot {
	result := p.detector.Detect(in.Candles)
	snap := llm.Snapshot{
		Asset:           in.Asset,
		Time:            in.Now,
		Price:           in.Price,
		Candles:         in.Candles,
		Levels:          in.Levels,
		Zones:           result.Zones(),
		ActiveZones:     result.ActiveAt(in.Price),
		Sweep:           p.detector.Sweep(in.Levels.Named(), in.Candles, in.Price),
		NewsSentiment:   sentiment.Neutral,
		SocialSentiment: sentiment.Neutral,
		DailyCount:      in.DailyCount,
		MaxDaily:        in.MaxDaily,
	}

	if p.sentiment != nil {
		s := p.sentiment.Get(ctx, in.Asset)
		snap.NewsSentiment, snap.SocialSentiment = s.News, s.Social
	}

	stats, err := p.store.GetPerformanceStats(ctx, in.Asset)
	if err != nil {
		p.logger.Warn("performance history unavailable", "asset", in.Asset, "error", err)
	} else {
		snap.Performance = stats
	}
	return snap
}

// Run produces and persists exactly one signal. The only error returned
// is a failed save, in which case no trade may follow.
func (p *Pipeline) Run(ctx context.Context, in Input) (*database.Signal, error) {
	snap := p.BuildSnapshot(ctx, in)
	log := p.logger.WithField("asset", in.Asset)
	if snap.Sweep != nil {
		log.Info("sweep detected", "level", snap.Sweep.LevelName, "direction", string(snap.Sweep.Direction))
	}

	var sig database.Signal
	raw, provider, err := p.oracle.Decide(ctx, snap)
	if err != nil {
		if !errors.Is(err, llm.ErrOracleUnavailable) {
			log.Warn("oracle failed", "error", err)
		}
		sig = Invalid(in.Asset, ReasonOracleUnavailable, llm.ProviderNone)
	} else {
		sig = Normalize(raw, in.Asset, provider)
	}
	sig.CreatedAt = in.Now

	if err := p.store.SaveSignal(ctx, &sig); err != nil {
		log.Error("failed to persist signal", "error", err)
		return nil, fmt.Errorf("error saving signal: %w", err)
	}

	log.Info("signal saved",
		"signal_id", sig.ID, "direction", sig.Direction, "valid", sig.TradeValid,
		"confidence", sig.Confidence, "reason", sig.Reason, "llm", sig.LLMUsed)
	p.bus.PublishSignalSaved(sig.ID, sig.Asset, sig.Direction, sig.TradeValid, sig.Reason, sig.LLMUsed)
	return &sig, nil
}
