package broker

import (
	"encoding/json"
	"sync"
	"time"

	"smc-trading-bot/internal/logging"

	"github.com/gorilla/websocket"
)

// QuoteStream keeps the latest bid/ask per symbol from the bridge's
// websocket tick feed.
type QuoteStream struct {
	mu sync.RWMutex

	url       string
	symbols   []string
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	quotes     map[string]Quote
	reconnects int
	retryDelay time.Duration

	logger *logging.Logger
}

type tickMessage struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"` // unix millis
}

type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// NewQuoteStream creates a stream for the given symbols
func NewQuoteStream(url string, symbols []string, logger *logging.Logger) *QuoteStream {
	if logger == nil {
		logger = logging.Default()
	}
	return &QuoteStream{
		url:        url,
		symbols:    symbols,
		quotes:     make(map[string]Quote),
		retryDelay: 5 * time.Second,
		logger:     logger.WithComponent("quote-stream"),
	}
}

// Start begins the connection loop in the background
func (s *QuoteStream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	go s.connect()
}

// Stop closes the connection and waits for the loop to exit
func (s *QuoteStream) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.wsConn != nil {
		s.wsConn.Close()
	}
	done := s.doneChan
	s.mu.Unlock()

	<-done
	s.logger.Info("quote stream stopped")
}

// Latest returns the last quote for symbol if it is younger than maxAge
func (s *QuoteStream) Latest(symbol string, maxAge time.Duration) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok || time.Since(q.Time) > maxAge {
		return Quote{}, false
	}
	return q, true
}

func (s *QuoteStream) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// connect establishes the websocket connection, reconnecting until stopped
func (s *QuoteStream) connect() {
	defer close(s.doneChan)

	for s.running() {
		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.mu.Lock()
			s.reconnects++
			attempts := s.reconnects
			s.mu.Unlock()
			s.logger.Warn("quote stream connection failed", "error", err, "attempt", attempts)
			if !s.sleep(s.retryDelay) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: s.symbols}); err != nil {
			s.logger.Warn("quote stream subscribe failed", "error", err)
			conn.Close()
			if !s.sleep(s.retryDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.wsConn = conn
		s.reconnects = 0
		s.mu.Unlock()

		s.logger.Info("quote stream connected", "symbols", s.symbols)
		s.readLoop(conn)

		if !s.running() {
			return
		}
		s.logger.Warn("quote stream connection lost, reconnecting")
		if !s.sleep(s.retryDelay) {
			return
		}
	}
}

func (s *QuoteStream) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	}
}

// readLoop reads tick messages until the connection fails
func (s *QuoteStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.running() {
				s.logger.Warn("quote stream read error", "error", err)
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *QuoteStream) handleMessage(message []byte) {
	var tick tickMessage
	if err := json.Unmarshal(message, &tick); err != nil || tick.Symbol == "" {
		return
	}
	ts := time.Now()
	if tick.Time > 0 {
		ts = time.UnixMilli(tick.Time)
	}
	s.mu.Lock()
	s.quotes[tick.Symbol] = Quote{Bid: tick.Bid, Ask: tick.Ask, Time: ts}
	s.mu.Unlock()
}
