package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/analysis"
	"smc-trading-bot/internal/levels"
)

type fakeCompleter struct {
	provider Provider
	fails    int
	calls    int
	answer   string
	system   string
	user     string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	if f.calls <= f.fails {
		return "", errors.New("boom")
	}
	return f.answer, nil
}

func (f *fakeCompleter) GetProvider() Provider { return f.provider }

func TestOracleFallsBackAfterTwoAttempts(t *testing.T) {
	primary := &fakeCompleter{provider: ProviderClaude, fails: 5}
	fallback := &fakeCompleter{provider: ProviderGroq, answer: "{}"}
	o := NewOracle(2, nil, primary, fallback)

	raw, provider, err := o.Decide(context.Background(), Snapshot{Asset: "XAUUSD"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if provider != "groq" || raw != "{}" {
		t.Errorf("Expected groq answer, got %q from %s", raw, provider)
	}
	if primary.calls != 2 {
		t.Errorf("Expected 2 primary attempts, got %d", primary.calls)
	}
}

func TestOraclePrimaryRecoversOnSecondAttempt(t *testing.T) {
	primary := &fakeCompleter{provider: ProviderClaude, fails: 1, answer: "x"}
	fallback := &fakeCompleter{provider: ProviderGroq, answer: "y"}
	o := NewOracle(2, nil, primary, fallback)

	_, provider, err := o.Decide(context.Background(), Snapshot{})
	if err != nil || provider != "claude" {
		t.Fatalf("Expected claude after retry, got %s, %v", provider, err)
	}
	if fallback.calls != 0 {
		t.Errorf("Fallback must not be called, got %d calls", fallback.calls)
	}
}

func TestOracleUnavailable(t *testing.T) {
	o := NewOracle(2, nil,
		&fakeCompleter{provider: ProviderClaude, fails: 9},
		&fakeCompleter{provider: ProviderGroq, fails: 9})

	_, provider, err := o.Decide(context.Background(), Snapshot{})
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("Expected ErrOracleUnavailable, got %v", err)
	}
	if provider != ProviderNone {
		t.Errorf("Expected provider none, got %s", provider)
	}

	if _, _, err := NewOracle(2, nil).Decide(context.Background(), Snapshot{}); !errors.Is(err, ErrOracleUnavailable) {
		t.Errorf("Expected ErrOracleUnavailable without providers, got %v", err)
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	high := 2035.5
	snap := Snapshot{
		Asset:      "XAUUSD",
		Time:       time.Date(2024, 3, 4, 15, 10, 0, 0, time.UTC),
		Price:      2030.1,
		Levels:     levels.LevelSet{Asia: levels.Range{High: &high}},
		Zones:      []analysis.Zone{{Kind: analysis.KindGap, Bias: analysis.Bullish, Top: 2031, Bottom: 2029}},
		Sweep:      &analysis.Sweep{LevelName: "asia_high", LevelPrice: high, Direction: analysis.SweepAbove},
		DailyCount: 1,
		MaxDaily:   2,
	}
	prompt := BuildAnalysisPrompt(DefaultStrategy(), snap)

	for _, want := range []string{"Asset: XAUUSD", "Local time (Europe/Paris)", "--- M5 CANDLES", "Trades today: 1/2", "asia_high: 2035.5", "asia_low: n/a", "FVG bullish", "Sweep: YES", "News: neutral", "no history yet"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q", want)
		}
	}
}

func TestDefaultSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(DefaultStrategy())
	for _, want := range []string{
		"Timeframe: M5. Risk per trade: 1% of balance.",
		"14:30 to 21:00 Europe/Paris time",
		"Asia high / low (00:00-09:00 Europe/Paris)",
		"London high / low (09:00-14:30 Europe/Paris)",
		"At most 2 trades per day",
		`{"a":"XAUUSD","d":"l|s|n"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected system prompt to contain %q", want)
		}
	}
}

func TestOracleQuotesConfiguredSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Trading.Timezone = "America/New_York"
	cfg.Trading.Timeframe = "M15"
	cfg.Sessions.Asia = "01:00-08:00"
	cfg.Sessions.London = "08:00-09:30"
	cfg.Sessions.Execution = "09:30-16:00"
	cfg.Risk.RiskPerTrade = 0.005
	cfg.Risk.MaxTradesPerDay = 3
	cfg.LLM.Primary.APIKey = ""
	cfg.LLM.Fallback.APIKey = ""

	fake := &fakeCompleter{provider: ProviderClaude, answer: "{}"}
	o := NewOracleFromConfig(cfg, nil)
	o.providers = []Completer{fake}

	if _, _, err := o.Decide(context.Background(), Snapshot{Asset: "US100"}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	for _, want := range []string{
		"Timeframe: M15. Risk per trade: 0.5% of balance.",
		"09:30 to 16:00 America/New_York time",
		"Asia high / low (01:00-08:00 America/New_York)",
		"London high / low (08:00-09:30 America/New_York)",
		"At most 3 trades per day",
	} {
		if !strings.Contains(fake.system, want) {
			t.Errorf("Expected system prompt to contain %q", want)
		}
	}
	if strings.Contains(fake.system, "Paris") {
		t.Error("Expected no default timezone in a configured prompt")
	}
	if !strings.Contains(fake.user, "Local time (America/New_York)") || !strings.Contains(fake.user, "--- M15 CANDLES") {
		t.Errorf("Expected the user prompt to quote the configured zone and timeframe, got %q", fake.user)
	}
}

func TestNewOracleFromConfigSkipsUnconfiguredProviders(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Primary.APIKey = ""
	cfg.LLM.Fallback.APIKey = "gsk"

	o := NewOracleFromConfig(cfg, nil)
	if len(o.providers) != 1 {
		t.Fatalf("Expected one provider, got %d", len(o.providers))
	}
	if o.providers[0].GetProvider() != ProviderGroq {
		t.Errorf("Expected groq, got %s", o.providers[0].GetProvider())
	}
}
