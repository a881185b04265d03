package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/logging"
	"smc-trading-bot/internal/retry"
)

// ErrOracleUnavailable is returned when no provider produced an answer
var ErrOracleUnavailable = errors.New("oracle unavailable")

// ProviderNone is recorded when no provider answered
const ProviderNone = "none"

// Completer is a single LLM backend
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GetProvider() Provider
}

// Oracle asks the primary provider, then the fallback, for a decision
type Oracle struct {
	providers []Completer
	attempts  int
	strategy  Strategy
	system    string
	logger    *logging.Logger
}

// NewOracle creates an oracle over providers in preference order. Each
// provider gets attempts tries with no wait in between.
func NewOracle(attempts int, logger *logging.Logger, providers ...Completer) *Oracle {
	if attempts <= 0 {
		attempts = 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	st := DefaultStrategy()
	return &Oracle{
		providers: providers,
		attempts:  attempts,
		strategy:  st,
		system:    SystemPrompt(st),
		logger:    logger.WithComponent("oracle"),
	}
}

// WithStrategy sets the sessions and limits quoted in both prompts
func (o *Oracle) WithStrategy(st Strategy) *Oracle {
	o.strategy = st
	o.system = SystemPrompt(st)
	return o
}

// NewOracleFromConfig builds the Claude primary and Groq fallback pair.
// Providers without an API key are left out.
func NewOracleFromConfig(cfg *config.Config, logger *logging.Logger) *Oracle {
	var providers []Completer
	for _, p := range []config.LLMProviderConfig{cfg.LLM.Primary, cfg.LLM.Fallback} {
		client := NewClient(&ClientConfig{
			Provider:    Provider(p.Provider),
			APIKey:      p.APIKey,
			Model:       p.Model,
			BaseURL:     p.BaseURL,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Timeout:     time.Duration(p.TimeoutSec) * time.Second,
		})
		if !client.IsConfigured() {
			continue
		}
		providers = append(providers, client)
	}
	return NewOracle(cfg.LLM.Attempts, logger, providers...).WithStrategy(StrategyFrom(cfg))
}

// Decide returns the raw response and the name of the provider that
// produced it
func (o *Oracle) Decide(ctx context.Context, snap Snapshot) (string, string, error) {
	system := o.system
	user := BuildAnalysisPrompt(o.strategy, snap)

	var lastErr error
	for _, p := range o.providers {
		name := string(p.GetProvider())
		policy := retry.NewPolicy("oracle-"+name, o.attempts, nil, o.logger)

		raw, err := retry.Do(ctx, policy, "complete", func(ctx context.Context) (string, error) {
			return p.Complete(ctx, system, user)
		})
		if err == nil {
			o.logger.Info("oracle answered", "provider", name, "asset", snap.Asset)
			return raw, name, nil
		}
		if ctx.Err() != nil {
			return "", ProviderNone, fmt.Errorf("%w: %w", ErrOracleUnavailable, ctx.Err())
		}
		lastErr = err
		o.logger.Warn("oracle provider failed, trying next", "provider", name, "error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no provider configured")
	}
	o.logger.Error("every oracle provider failed", "asset", snap.Asset, "error", lastErr)
	return "", ProviderNone, fmt.Errorf("%w: %w", ErrOracleUnavailable, lastErr)
}
