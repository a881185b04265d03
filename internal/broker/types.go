package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is returned when the venue cannot be reached or
	// answers with a server-side failure. Callers may retry.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNotFound is returned for unknown symbols or tickets
	ErrNotFound = errors.New("broker: not found")
)

// Direction of a position or order
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Candle represents one OHLCV bar. Time is the bar open time.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IsBullish reports close > open
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports close < open
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Quote is the current top of book
type Quote struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time"`
}

// SymbolMeta holds the contract specification used for sizing
type SymbolMeta struct {
	Symbol     string  `json:"symbol"`
	TickValue  float64 `json:"tick_value"`
	TickSize   float64 `json:"tick_size"`
	VolumeMin  float64 `json:"volume_min"`
	VolumeMax  float64 `json:"volume_max"`
	VolumeStep float64 `json:"volume_step"`
	Digits     int     `json:"digits"`
}

// AccountInfo is the trading account summary
type AccountInfo struct {
	Login    int64   `json:"login"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

// OrderRequest is a market order with protective levels
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
	SL        float64   `json:"sl"`
	TP        float64   `json:"tp"`
	Deviation int       `json:"deviation"`
	Magic     int64     `json:"magic"`
	Comment   string    `json:"comment"`
	ClientID  string    `json:"client_id"`
}

// OrderResult is the venue's answer to an order request
type OrderResult struct {
	Success bool    `json:"success"`
	Ticket  int64   `json:"ticket"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	Retcode int     `json:"retcode"`
	Error   string  `json:"error,omitempty"`
}

// OrderError is returned when the venue refuses an order
type OrderError struct {
	Retcode int
	Message string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order rejected (retcode %d): %s", e.Retcode, e.Message)
}

// Position is a live position at the venue
type Position struct {
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Volume    float64   `json:"volume"`
	PriceOpen float64   `json:"price_open"`
	SL        float64   `json:"sl"`
	TP        float64   `json:"tp"`
	Profit    float64   `json:"profit"`
	Time      time.Time `json:"time"`
}

// DealEntry distinguishes opening from closing fills
type DealEntry string

const (
	DealIn  DealEntry = "in"
	DealOut DealEntry = "out"
)

// Deal is one fill in the account history
type Deal struct {
	Ticket     int64     `json:"ticket"`
	PositionID int64     `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Entry      DealEntry `json:"entry"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Volume     float64   `json:"volume"`
	Time       time.Time `json:"time"`
}
