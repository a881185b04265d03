package llm

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/analysis"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/levels"
)

// Snapshot is everything the oracle sees for one asset and one closed bar
type Snapshot struct {
	Asset           string
	Time            time.Time // local trading time
	Price           float64
	Candles         []broker.Candle
	Levels          levels.LevelSet
	Zones           []analysis.Zone
	ActiveZones     []analysis.Zone
	Sweep           *analysis.Sweep
	NewsSentiment   string
	SocialSentiment string
	Performance     []database.PerformanceStat
	DailyCount      int
	MaxDaily        int
}

// Strategy holds the deployment values the system prompt quotes
type Strategy struct {
	Timezone        string
	Timeframe       string
	Asia            config.SessionWindow
	London          config.SessionWindow
	Execution       config.SessionWindow
	RiskPerTrade    float64
	MaxTradesPerDay int
}

// DefaultStrategy matches the default configuration
func DefaultStrategy() Strategy {
	return Strategy{
		Timezone:        "Europe/Paris",
		Timeframe:       "M5",
		Asia:            config.MustSessionWindow("00:00-09:00"),
		London:          config.MustSessionWindow("09:00-14:30"),
		Execution:       config.MustSessionWindow("14:30-21:00"),
		RiskPerTrade:    0.01,
		MaxTradesPerDay: 2,
	}
}

// StrategyFrom reads the prompt values from a validated config
func StrategyFrom(cfg *config.Config) Strategy {
	return Strategy{
		Timezone:        cfg.Trading.Timezone,
		Timeframe:       cfg.Trading.Timeframe,
		Asia:            config.MustSessionWindow(cfg.Sessions.Asia),
		London:          config.MustSessionWindow(cfg.Sessions.London),
		Execution:       config.MustSessionWindow(cfg.Sessions.Execution),
		RiskPerTrade:    cfg.Risk.RiskPerTrade,
		MaxTradesPerDay: cfg.Risk.MaxTradesPerDay,
	}
}

// RiskPercent is RiskPerTrade as a percentage, e.g. "1"
func (st Strategy) RiskPercent() string {
	return fmt.Sprintf("%.4g", st.RiskPerTrade*100)
}

// hours renders a window as "14:30 to 21:00"
func hours(w config.SessionWindow) string {
	return strings.Replace(w.String(), "-", " to ", 1)
}

var systemPrompt = template.Must(template.New("system").Funcs(template.FuncMap{"hours": hours}).Parse(`You are a disciplined intraday trading algorithm applying the SMC/ICT method.

## INSTRUMENTS
- XAUUSD (spot gold CFD)
- US100 (Nasdaq 100 cash CFD)
Timeframe: {{.Timeframe}}. Risk per trade: {{.RiskPercent}}% of balance.

## SESSION
Trade ONLY during the New York session, {{hours .Execution}} {{.Timezone}} time.
Asia and London build liquidity, New York delivers the move.
Outside New York answer with d="n" and r="outside session".

## KEY LEVELS (supplied every time)
- Asia high / low ({{.Asia}} {{.Timezone}})
- London high / low ({{.London}} {{.Timezone}})
- Previous day high / low
They are fixed for the day. Price often runs them to take stops before reacting.

## CONFLUENCES
Never trade without one. Valid confluences:
- FVG: three-candle imbalance left by a fast move
- iFVG: filled FVG that now blocks or continues
- OB: last opposing candle before a strong directional move
- BB: broken OB that changed role

## ENTRY REQUIRES ALL THREE
1. A key level was taken (liquidity sweep confirmed)
2. Price is back inside a confluence (FVG, OB, iFVG)
3. A clean confirmation candle in the trade direction
If any condition is missing, v=false.

## SCENARIOS
Reversal: price runs a level then turns. Trade against the sweep, target the next opposite visible high or low.
Continuation: price runs a level and keeps going. Target the next high or low in the direction of the move.

## STOP AND TARGET
- SL behind the swept level, where the idea is invalidated
- TP at the next visible key level (Asia, London or previous day high/low)
- Never invent levels

## OVERTRADING
- At most {{.MaxTradesPerDay}} trades per day per instrument, then stop until tomorrow
- No valid setup means no trade

## RESPONSE FORMAT
Reply with compact JSON ONLY, nothing else:
{"a":"XAUUSD","d":"l|s|n","s":"r|c|u|n","c":0,"e":null,"sl":null,"tp":null,"rr":null,"cf":[],"sw":"none","ns":"n","ss":"n","v":false,"r":"x"}

Keys: a=asset, d=direction (l/s/n), s=scenario (r/c/u/n), c=confidence %, e=entry, sl=stop loss, tp=take profit, rr=reward:risk, cf=confluences, sw=swept level, ns=news, ss=social, v=valid, r=short reason.
If v=false then e, sl, tp and rr are null.
Never make anything up.`))

// SystemPrompt renders the strategy rules and the compact response contract
func SystemPrompt(st Strategy) string {
	var b strings.Builder
	if err := systemPrompt.Execute(&b, st); err != nil {
		panic(fmt.Sprintf("llm: system prompt: %v", err))
	}
	return b.String()
}

// BuildAnalysisPrompt renders a snapshot as the user prompt
func BuildAnalysisPrompt(st Strategy, s Snapshot) string {
	var b strings.Builder

	b.WriteString("=== MARKET SNAPSHOT ===\n\n")
	fmt.Fprintf(&b, "Asset: %s\n", s.Asset)
	fmt.Fprintf(&b, "Local time (%s): %s\n", st.Timezone, s.Time.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Current price: %s\n", formatPrice(s.Price))
	fmt.Fprintf(&b, "Trades today: %d/%d\n\n", s.DailyCount, s.MaxDaily)

	fmt.Fprintf(&b, "--- %s CANDLES (last %d) ---\n", st.Timeframe, len(s.Candles))
	for i, c := range s.Candles {
		fmt.Fprintf(&b, "  [%d] %s O:%s H:%s L:%s C:%s V:%.0f\n", i+1, c.Time.Format("15:04"),
			formatPrice(c.Open), formatPrice(c.High), formatPrice(c.Low), formatPrice(c.Close), c.Volume)
	}

	b.WriteString("\n--- KEY LEVELS ---\n")
	for _, lvl := range s.Levels.Named() {
		fmt.Fprintf(&b, "%s: %s\n", lvl.Name, formatLevel(lvl.Price))
	}

	b.WriteString("\n--- DETECTED ZONES ---\n")
	if len(s.Zones) == 0 {
		b.WriteString("  none detected\n")
	}
	for _, z := range s.Zones {
		fmt.Fprintf(&b, "  - %s %s [%s - %s]\n", z.Label(), z.Bias, formatPrice(z.Bottom), formatPrice(z.Top))
	}
	if len(s.ActiveZones) > 0 {
		labels := make([]string, len(s.ActiveZones))
		for i, z := range s.ActiveZones {
			labels[i] = z.Label()
		}
		fmt.Fprintf(&b, "Price is inside: %s\n", strings.Join(labels, ", "))
	}

	b.WriteString("\n--- SWEEP ---\n")
	if s.Sweep == nil {
		b.WriteString("Sweep: NO\n")
	} else {
		fmt.Fprintf(&b, "Sweep: YES\nLevel: %s (%s)\nDirection: %s\nCandle: %s\n",
			s.Sweep.LevelName, formatPrice(s.Sweep.LevelPrice), s.Sweep.Direction, s.Sweep.CandleTime.Format("15:04"))
	}

	b.WriteString("\n--- SENTIMENT ---\n")
	fmt.Fprintf(&b, "News: %s\n", orNeutral(s.NewsSentiment))
	fmt.Fprintf(&b, "Social (Reddit): %s\n", orNeutral(s.SocialSentiment))

	b.WriteString("\n--- PAST PERFORMANCE ---\n")
	if len(s.Performance) == 0 {
		b.WriteString("  no history yet\n")
	}
	for _, p := range s.Performance {
		fmt.Fprintf(&b, "  - %s: %d trades, WR=%.1f%%, avgRR=%.2f, PnL=%.2f\n",
			p.PatternKey, p.TotalTrades, p.WinRate, p.AvgRR, p.TotalPnL)
	}

	b.WriteString("\n=== END OF DATA ===")
	return b.String()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatLevel(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return formatPrice(*p)
}

func orNeutral(s string) string {
	if s == "" {
		return "neutral"
	}
	return s
}
