package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"
)

// PaperConfig configures the simulated venue
type PaperConfig struct {
	Balance   float64
	Seed      int64
	Timeframe time.Duration
	Now       func() time.Time
}

// PaperClient simulates a venue in-process. Candles are a deterministic
// function of (seed, symbol, bar time) so repeated fetches agree; orders
// fill at the simulated quote and positions close when price crosses
// their SL or TP.
type PaperClient struct {
	mu sync.Mutex

	cfg        PaperConfig
	basePrices map[string]float64
	meta       map[string]SymbolMeta

	balance    float64
	nextTicket int64
	positions  map[int64]*Position
	deals      []Deal

	// test overrides
	quotes   map[string]Quote
	failures map[string]error
}

// NewPaperClient creates a simulated venue with XAUUSD and US100 specs
func NewPaperClient(cfg PaperConfig) *PaperClient {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Balance <= 0 {
		cfg.Balance = 10000
	}
	return &PaperClient{
		cfg: cfg,
		basePrices: map[string]float64{
			"XAUUSD": 2350.0,
			"US100":  18000.0,
		},
		meta: map[string]SymbolMeta{
			"XAUUSD": {Symbol: "XAUUSD", TickValue: 1.0, TickSize: 0.01, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01, Digits: 2},
			"US100":  {Symbol: "US100", TickValue: 0.1, TickSize: 0.1, VolumeMin: 0.1, VolumeMax: 100, VolumeStep: 0.1, Digits: 1},
		},
		balance:    cfg.Balance,
		nextTicket: 100000,
		positions:  make(map[int64]*Position),
		quotes:     make(map[string]Quote),
		failures:   make(map[string]error),
	}
}

// SetQuote pins the quote for symbol and triggers stop checks
func (p *PaperClient) SetQuote(symbol string, q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = q
	p.checkStopsLocked()
}

// InjectFailure makes the named operation fail with err until cleared
// with a nil err. Names match the Client method names.
func (p *PaperClient) InjectFailure(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

func (p *PaperClient) failure(op string) error {
	if err, ok := p.failures[op]; ok {
		return err
	}
	return nil
}

// noise returns a deterministic value in [-1, 1) for (symbol, t, salt)
func (p *PaperClient) noise(symbol string, t int64, salt uint64) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d|%d", p.cfg.Seed, symbol, t, salt)
	return float64(h.Sum64()%2000000)/1000000.0 - 1.0
}

func (p *PaperClient) priceAt(symbol string, bar time.Time) float64 {
	base, ok := p.basePrices[symbol]
	if !ok {
		base = 100.0
	}
	t := bar.Unix()
	days := float64(t) / 86400.0
	drift := 0.01 * math.Sin(days*2*math.Pi/3)
	intraday := 0.003 * math.Sin(float64(t)/3600.0)
	return base * (1 + drift + intraday + 0.0008*p.noise(symbol, t, 0))
}

func (p *PaperClient) barOpen(t time.Time) time.Time {
	return t.Truncate(p.cfg.Timeframe)
}

func (p *PaperClient) candleAt(symbol string, bar time.Time) Candle {
	open := p.priceAt(symbol, bar.Add(-p.cfg.Timeframe))
	closePrice := p.priceAt(symbol, bar)
	wiggle := math.Abs(closePrice-open) * 0.5
	if wiggle == 0 {
		wiggle = closePrice * 0.0002
	}
	top := math.Max(open, closePrice)
	bottom := math.Min(open, closePrice)
	return Candle{
		Time:   bar,
		Open:   open,
		High:   top + wiggle*math.Abs(p.noise(symbol, bar.Unix(), 1)),
		Low:    bottom - wiggle*math.Abs(p.noise(symbol, bar.Unix(), 2)),
		Close:  closePrice,
		Volume: 500 + 400*math.Abs(p.noise(symbol, bar.Unix(), 3)),
	}
}

// GetCandles returns the last count closed bars, oldest first
func (p *PaperClient) GetCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetCandles"); err != nil {
		return nil, err
	}

	if _, ok := p.meta[symbol]; !ok {
		return nil, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}

	last := p.barOpen(p.cfg.Now()).Add(-p.cfg.Timeframe)
	candles := make([]Candle, count)
	for i := 0; i < count; i++ {
		bar := last.Add(-time.Duration(count-1-i) * p.cfg.Timeframe)
		candles[i] = p.candleAt(symbol, bar)
	}
	return candles, nil
}

func (p *PaperClient) quoteLocked(symbol string) Quote {
	if q, ok := p.quotes[symbol]; ok {
		return q
	}
	now := p.cfg.Now()
	mid := p.priceAt(symbol, now.Truncate(time.Second))
	spread := mid * 0.00005
	return Quote{Bid: mid - spread/2, Ask: mid + spread/2, Time: now}
}

// GetCurrentPrice returns the simulated quote
func (p *PaperClient) GetCurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetCurrentPrice"); err != nil {
		return Quote{}, err
	}
	if _, ok := p.meta[symbol]; !ok {
		return Quote{}, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}
	return p.quoteLocked(symbol), nil
}

// GetAccountInfo returns the simulated balance
func (p *PaperClient) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetAccountInfo"); err != nil {
		return AccountInfo{}, err
	}
	equity := p.balance
	for _, pos := range p.positions {
		equity += pos.Profit
	}
	return AccountInfo{Login: 1, Balance: p.balance, Equity: equity, Currency: "USD"}, nil
}

// GetSymbolMeta returns the registered symbol spec
func (p *PaperClient) GetSymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetSymbolMeta"); err != nil {
		return SymbolMeta{}, err
	}
	meta, ok := p.meta[symbol]
	if !ok {
		return SymbolMeta{}, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}
	return meta, nil
}

// PlaceOrder fills a market order at the simulated quote
func (p *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("PlaceOrder"); err != nil {
		return OrderResult{}, err
	}

	meta, ok := p.meta[req.Symbol]
	if !ok {
		return OrderResult{Retcode: 10013, Error: "unknown symbol"}, &OrderError{Retcode: 10013, Message: "unknown symbol " + req.Symbol}
	}
	if req.Volume < meta.VolumeMin || req.Volume > meta.VolumeMax {
		msg := fmt.Sprintf("invalid volume %.2f", req.Volume)
		return OrderResult{Retcode: 10014, Error: msg}, &OrderError{Retcode: 10014, Message: msg}
	}

	q := p.quoteLocked(req.Symbol)
	price := q.Ask
	if req.Direction == Short {
		price = q.Bid
	}

	p.nextTicket++
	ticket := p.nextTicket
	now := p.cfg.Now()
	p.positions[ticket] = &Position{
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Volume:    req.Volume,
		PriceOpen: price,
		SL:        req.SL,
		TP:        req.TP,
		Time:      now,
	}
	p.deals = append(p.deals, Deal{
		Ticket:     ticket*10 + 1,
		PositionID: ticket,
		Symbol:     req.Symbol,
		Entry:      DealIn,
		Price:      price,
		Volume:     req.Volume,
		Time:       now,
	})

	return OrderResult{Success: true, Ticket: ticket, Price: price, Volume: req.Volume, Retcode: 10009}, nil
}

// GetOpenPositions lists positions still open after stop checks
func (p *PaperClient) GetOpenPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetOpenPositions"); err != nil {
		return nil, err
	}
	p.checkStopsLocked()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// GetClosedDeals returns deals between since and until
func (p *PaperClient) GetClosedDeals(ctx context.Context, since, until time.Time, symbol string) ([]Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("GetClosedDeals"); err != nil {
		return nil, err
	}

	var out []Deal
	for _, d := range p.deals {
		if d.Time.Before(since) || d.Time.After(until) {
			continue
		}
		if symbol != "" && d.Symbol != symbol {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ClosePosition closes a position at price, recording the exit deal
func (p *PaperClient) ClosePosition(ticket int64, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(ticket, price)
}

func (p *PaperClient) closeLocked(ticket int64, price float64) error {
	pos, ok := p.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, ticket)
	}
	meta := p.meta[pos.Symbol]

	move := price - pos.PriceOpen
	if pos.Direction == Short {
		move = -move
	}
	profit := 0.0
	if meta.TickSize > 0 {
		profit = move / meta.TickSize * meta.TickValue * pos.Volume
	}
	profit = math.Round(profit*100) / 100

	p.balance += profit
	delete(p.positions, ticket)
	p.deals = append(p.deals, Deal{
		Ticket:     ticket*10 + 2,
		PositionID: ticket,
		Symbol:     pos.Symbol,
		Entry:      DealOut,
		Price:      price,
		Profit:     profit,
		Volume:     pos.Volume,
		Time:       p.cfg.Now(),
	})
	return nil
}

// checkStopsLocked closes positions whose SL or TP has been crossed
func (p *PaperClient) checkStopsLocked() {
	for ticket, pos := range p.positions {
		q := p.quoteLocked(pos.Symbol)
		switch pos.Direction {
		case Long:
			if pos.TP > 0 && q.Bid >= pos.TP {
				_ = p.closeLocked(ticket, pos.TP)
			} else if pos.SL > 0 && q.Bid <= pos.SL {
				_ = p.closeLocked(ticket, pos.SL)
			}
		case Short:
			if pos.TP > 0 && q.Ask <= pos.TP {
				_ = p.closeLocked(ticket, pos.TP)
			} else if pos.SL > 0 && q.Ask >= pos.SL {
				_ = p.closeLocked(ticket, pos.SL)
			}
		}
	}
}
