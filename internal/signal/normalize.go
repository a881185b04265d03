// Package signal turns market snapshots into persisted, normalized
// trade proposals.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"smc-trading-bot/internal/database"
)

// Reasons set by the normalizer itself
const (
	ReasonParseError        = "parse_error"
	ReasonOracleUnavailable = "oracle_unavailable"
	ReasonMissingFields     = "missing fields in oracle response"
	ReasonNoDirection       = "trade_valid without a long or short direction"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	braceJSON  = regexp.MustCompile(`(?s)\{.*\}`)
)

// compactKeys maps the short response keys to the canonical field names
var compactKeys = map[string]string{
	"a":  "asset",
	"d":  "direction",
	"s":  "scenario",
	"c":  "confidence",
	"e":  "entry_price",
	"sl": "sl_price",
	"tp": "tp_price",
	"rr": "rr_ratio",
	"cf": "confluences_used",
	"sw": "sweep_level",
	"ns": "news_sentiment",
	"ss": "social_sentiment",
	"v":  "trade_valid",
	"r":  "reason",
}

// requiredFields is the canonical schema, in order
var requiredFields = []string{
	"asset", "direction", "scenario", "confidence",
	"entry_price", "sl_price", "tp_price", "rr_ratio",
	"confluences_used", "sweep_level",
	"news_sentiment", "social_sentiment",
	"trade_valid", "reason",
}

var directionValues = map[string]string{
	"l": database.DirectionLong, "long": database.DirectionLong,
	"s": database.DirectionShort, "short": database.DirectionShort,
	"n": database.DirectionNone, "none": database.DirectionNone,
}

var scenarioValues = map[string]string{
	"r": "reversal", "reversal": "reversal",
	"c": "continuation", "continuation": "continuation",
	"u": "unclear", "unclear": "unclear",
	"n": "none", "none": "none",
}

var sentimentValues = map[string]string{
	"b": "bullish", "bullish": "bullish",
	"be": "bearish", "bear": "bearish", "bearish": "bearish",
	"n": "neutral", "neutral": "neutral",
}

// Invalid returns a fully populated signal that can never be admitted
func Invalid(asset, reason, provider string) database.Signal {
	return database.Signal{
		Asset:           asset,
		Direction:       database.DirectionNone,
		Scenario:        "none",
		ConfluencesUsed: []string{},
		SweepLevel:      "none",
		NewsSentiment:   "neutral",
		SocialSentiment: "neutral",
		TradeValid:      false,
		Reason:          reason,
		LLMUsed:         provider,
	}
}

// Normalize maps a raw oracle response, in either the full or the compact
// key shape, onto the canonical Signal. It never fails: unparseable input
// yields an invalid signal with reason parse_error.
func Normalize(raw, asset, provider string) database.Signal {
	fields, err := decode(raw)
	if err != nil {
		sig := Invalid(asset, ReasonParseError, provider)
		sig.RawResponse = raw
		return sig
	}

	fields = canonicalKeys(fields)

	missing := false
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = true
			break
		}
	}

	sig := database.Signal{
		Asset:           stringField(fields, "asset", ""),
		Direction:       enumField(fields, "direction", directionValues, database.DirectionNone),
		Scenario:        enumField(fields, "scenario", scenarioValues, "none"),
		Confidence:      confidenceField(fields["confidence"]),
		EntryPrice:      floatField(fields["entry_price"]),
		SLPrice:         floatField(fields["sl_price"]),
		TPPrice:         floatField(fields["tp_price"]),
		RRRatio:         floatField(fields["rr_ratio"]),
		ConfluencesUsed: listField(fields["confluences_used"]),
		SweepLevel:      stringField(fields, "sweep_level", "none"),
		NewsSentiment:   enumField(fields, "news_sentiment", sentimentValues, "neutral"),
		SocialSentiment: enumField(fields, "social_sentiment", sentimentValues, "neutral"),
		TradeValid:      boolField(fields["trade_valid"]),
		Reason:          stringField(fields, "reason", ""),
		LLMUsed:         provider,
		RawResponse:     raw,
	}

	if sig.Asset == "" {
		sig.Asset = asset
	}
	if sig.Reason == "" && missing {
		sig.Reason = ReasonMissingFields
	}
	if sig.TradeValid && sig.Direction != database.DirectionLong && sig.Direction != database.DirectionShort {
		sig.TradeValid = false
		sig.Reason = ReasonNoDirection
	}
	if !sig.TradeValid {
		sig.EntryPrice, sig.SLPrice, sig.TPPrice, sig.RRRatio = nil, nil, nil, nil
	}
	return sig
}

// decode extracts the JSON object from a fenced block or the outermost
// brace span
func decode(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if m := braceJSON.FindString(text); m != "" {
		text = m
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("error decoding oracle response: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("oracle response is not an object")
	}
	return fields, nil
}

// canonicalKeys keeps a full-key response as is and renames a compact one
func canonicalKeys(fields map[string]interface{}) map[string]interface{} {
	for _, f := range requiredFields {
		if _, ok := fields[f]; ok {
			return fields
		}
	}
	out := make(map[string]interface{}, len(fields))
	for short, full := range compactKeys {
		if v, ok := fields[short]; ok {
			out[full] = v
		}
	}
	return out
}

func stringField(fields map[string]interface{}, key, def string) string {
	switch v := fields[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case json.Number:
		return v.String()
	}
	return def
}

func enumField(fields map[string]interface{}, key string, values map[string]string, def string) string {
	s := stringField(fields, key, "")
	if s == "" {
		return def
	}
	if mapped, ok := values[strings.ToLower(s)]; ok {
		return mapped
	}
	return def
}

func floatField(v interface{}) *float64 {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func confidenceField(v interface{}) int {
	f := floatField(v)
	if f == nil {
		return 0
	}
	c := int(math.Round(*f))
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func boolField(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	}
	return false
}

func listField(v interface{}) []string {
	out := []string{}
	switch x := v.(type) {
	case []interface{}:
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, part := range strings.Split(x, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
