package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// BridgeConfig configures the REST bridge to the MT5 terminal
type BridgeConfig struct {
	BaseURL           string
	APIKey            string
	Timeframe         string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// BridgeClient talks JSON over HTTP to a gateway running next to the
// MT5 terminal. Quotes are served from the optional QuoteStream when
// fresh enough.
type BridgeClient struct {
	baseURL    string
	apiKey     string
	timeframe  string
	httpClient *http.Client
	limiter    *rate.Limiter
	stream     *QuoteStream
	quoteTTL   time.Duration
}

// NewBridgeClient creates a bridge client
func NewBridgeClient(cfg BridgeConfig) *BridgeClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "M5"
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &BridgeClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeframe:  cfg.Timeframe,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		quoteTTL:   5 * time.Second,
	}
}

// AttachStream makes GetCurrentPrice prefer streamed quotes
func (c *BridgeClient) AttachStream(s *QuoteStream) {
	c.stream = s
}

type wireCandle struct {
	Time       int64   `json:"time"` // unix seconds
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

type wireTick struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"`
}

type wirePosition struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"` // buy or sell
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Time      int64   `json:"time"`
}

type wireDeal struct {
	Ticket     int64   `json:"ticket"`
	PositionID int64   `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Entry      int     `json:"entry"` // 0 in, 1 out
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	Volume     float64 `json:"volume"`
	Time       int64   `json:"time"`
}

// GetCandles fetches the last count bars, oldest first
func (c *BridgeClient) GetCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", c.timeframe)
	params.Set("count", strconv.Itoa(count))

	var raw []wireCandle
	if err := c.get(ctx, "/candles", params, &raw); err != nil {
		return nil, fmt.Errorf("error fetching candles: %w", err)
	}

	candles := make([]Candle, len(raw))
	for i, r := range raw {
		candles[i] = Candle{
			Time:   time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.TickVolume,
		}
	}
	return candles, nil
}

// GetCurrentPrice returns the latest bid/ask
func (c *BridgeClient) GetCurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	if c.stream != nil {
		if q, ok := c.stream.Latest(symbol, c.quoteTTL); ok {
			return q, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	var tick wireTick
	if err := c.get(ctx, "/tick", params, &tick); err != nil {
		return Quote{}, fmt.Errorf("error fetching tick: %w", err)
	}
	return Quote{Bid: tick.Bid, Ask: tick.Ask, Time: time.Unix(tick.Time, 0).UTC()}, nil
}

// GetAccountInfo returns balance and equity
func (c *BridgeClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	if err := c.get(ctx, "/account", nil, &info); err != nil {
		return AccountInfo{}, fmt.Errorf("error fetching account: %w", err)
	}
	return info, nil
}

// GetSymbolMeta returns the contract specification
func (c *BridgeClient) GetSymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error) {
	var meta SymbolMeta
	if err := c.get(ctx, "/symbols/"+url.PathEscape(symbol), nil, &meta); err != nil {
		return SymbolMeta{}, fmt.Errorf("error fetching symbol %s: %w", symbol, err)
	}
	meta.Symbol = symbol
	return meta, nil
}

// PlaceOrder sends a market order. A refused order returns the result
// together with an *OrderError.
func (c *BridgeClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	var result OrderResult
	if err := c.do(ctx, http.MethodPost, "/orders", nil, req, &result); err != nil {
		return OrderResult{}, fmt.Errorf("error placing order: %w", err)
	}
	if !result.Success {
		return result, &OrderError{Retcode: result.Retcode, Message: result.Error}
	}
	return result, nil
}

// GetOpenPositions lists live positions
func (c *BridgeClient) GetOpenPositions(ctx context.Context) ([]Position, error) {
	var raw []wirePosition
	if err := c.get(ctx, "/positions", nil, &raw); err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	positions := make([]Position, len(raw))
	for i, p := range raw {
		dir := Long
		if p.Type == "sell" {
			dir = Short
		}
		positions[i] = Position{
			Ticket:    p.Ticket,
			Symbol:    p.Symbol,
			Direction: dir,
			Volume:    p.Volume,
			PriceOpen: p.PriceOpen,
			SL:        p.SL,
			TP:        p.TP,
			Profit:    p.Profit,
			Time:      time.Unix(p.Time, 0).UTC(),
		}
	}
	return positions, nil
}

// GetClosedDeals returns history deals between since and until
func (c *BridgeClient) GetClosedDeals(ctx context.Context, since, until time.Time, symbol string) ([]Deal, error) {
	params := url.Values{}
	params.Set("from", strconv.FormatInt(since.Unix(), 10))
	params.Set("to", strconv.FormatInt(until.Unix(), 10))
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var raw []wireDeal
	if err := c.get(ctx, "/deals", params, &raw); err != nil {
		return nil, fmt.Errorf("error fetching deals: %w", err)
	}

	deals := make([]Deal, len(raw))
	for i, d := range raw {
		entry := DealIn
		if d.Entry == 1 {
			entry = DealOut
		}
		deals[i] = Deal{
			Ticket:     d.Ticket,
			PositionID: d.PositionID,
			Symbol:     d.Symbol,
			Entry:      entry,
			Price:      d.Price,
			Profit:     d.Profit,
			Volume:     d.Volume,
			Time:       time.Unix(d.Time, 0).UTC(),
		}
	}
	return deals, nil
}

func (c *BridgeClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *BridgeClient) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: error reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
