package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newBridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/candles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("timeframe") != "M5" || r.URL.Query().Get("count") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]wireCandle{
			{Time: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, TickVolume: 10},
			{Time: 1700000300, Open: 1.5, High: 2.5, Low: 1.4, Close: 2.2, TickVolume: 12},
		})
	})
	mux.HandleFunc("/tick", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireTick{Bid: 2000.1, Ask: 2000.3, Time: 1700000400})
	})
	mux.HandleFunc("/symbols/XAUUSD", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SymbolMeta{TickValue: 1, TickSize: 0.01, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		var req OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ClientID == "" {
			t.Error("expected a client id on the order")
		}
		if req.Volume > 10 {
			json.NewEncoder(w).Encode(OrderResult{Success: false, Retcode: 10014, Error: "invalid volume"})
			return
		}
		json.NewEncoder(w).Encode(OrderResult{Success: true, Ticket: 555, Price: 2000.3, Volume: req.Volume})
	})
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wirePosition{{Ticket: 555, Symbol: "XAUUSD", Type: "sell", Volume: 1}})
	})
	mux.HandleFunc("/deals", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "XAUUSD" {
			t.Errorf("expected symbol filter, got %q", r.URL.Query().Get("symbol"))
		}
		json.NewEncoder(w).Encode([]wireDeal{
			{Ticket: 1, PositionID: 555, Symbol: "XAUUSD", Entry: 0, Price: 2000.3},
			{Ticket: 2, PositionID: 555, Symbol: "XAUUSD", Entry: 1, Price: 2010, Profit: 97.0},
		})
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("terminal offline"))
	})
	return httptest.NewServer(mux)
}

func TestBridgeClientRoundTrips(t *testing.T) {
	srv := newBridgeServer(t)
	defer srv.Close()

	c := NewBridgeClient(BridgeConfig{BaseURL: srv.URL, APIKey: "secret", RequestsPerSecond: 100})
	ctx := context.Background()

	candles, err := c.GetCandles(ctx, "XAUUSD", 2)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if !candles[1].Time.Equal(time.Unix(1700000300, 0)) || candles[1].Close != 2.2 {
		t.Errorf("Unexpected second candle %+v", candles[1])
	}

	q, err := c.GetCurrentPrice(ctx, "XAUUSD")
	if err != nil {
		t.Fatalf("GetCurrentPrice failed: %v", err)
	}
	if q.Bid != 2000.1 || q.Ask != 2000.3 {
		t.Errorf("Unexpected quote %+v", q)
	}

	meta, err := c.GetSymbolMeta(ctx, "XAUUSD")
	if err != nil {
		t.Fatalf("GetSymbolMeta failed: %v", err)
	}
	if meta.Symbol != "XAUUSD" || meta.TickSize != 0.01 {
		t.Errorf("Unexpected meta %+v", meta)
	}

	res, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "XAUUSD", Direction: Long, Volume: 1})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if res.Ticket != 555 {
		t.Errorf("Expected ticket 555, got %d", res.Ticket)
	}

	positions, err := c.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions failed: %v", err)
	}
	if len(positions) != 1 || positions[0].Direction != Short {
		t.Errorf("Expected one short position, got %+v", positions)
	}

	deals, err := c.GetClosedDeals(ctx, time.Unix(0, 0), time.Now(), "XAUUSD")
	if err != nil {
		t.Fatalf("GetClosedDeals failed: %v", err)
	}
	if len(deals) != 2 || deals[1].Entry != DealOut || deals[1].Profit != 97.0 {
		t.Errorf("Unexpected deals %+v", deals)
	}
}

func TestBridgeClientErrors(t *testing.T) {
	srv := newBridgeServer(t)
	defer srv.Close()

	c := NewBridgeClient(BridgeConfig{BaseURL: srv.URL, APIKey: "secret", RequestsPerSecond: 100})
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "XAUUSD", Direction: Long, Volume: 20})
	var orderErr *OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("Expected OrderError, got %v", err)
	}
	if orderErr.Retcode != 10014 {
		t.Errorf("Expected retcode 10014, got %d", orderErr.Retcode)
	}

	if _, err := c.GetAccountInfo(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable on 502, got %v", err)
	}
	if _, err := c.GetSymbolMeta(ctx, "EURUSD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on 404, got %v", err)
	}

	srv.Close()
	if _, err := c.GetCandles(ctx, "XAUUSD", 2); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable when server is down, got %v", err)
	}
}

func TestQuoteStreamFeedsCurrentPrice(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" {
			return
		}
		conn.WriteJSON(tickMessage{Symbol: "XAUUSD", Bid: 2001, Ask: 2002, Time: time.Now().UnixMilli()})
		// keep the connection open until the client leaves
		conn.ReadMessage()
	}))
	defer srv.Close()

	stream := NewQuoteStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"XAUUSD"}, nil)
	stream.Start()
	defer stream.Stop()

	c := NewBridgeClient(BridgeConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 100})
	c.AttachStream(stream)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q, err := c.GetCurrentPrice(context.Background(), "XAUUSD"); err == nil {
			if q.Bid != 2001 || q.Ask != 2002 {
				t.Fatalf("Unexpected streamed quote %+v", q)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Expected streamed quote within 2s")
}
