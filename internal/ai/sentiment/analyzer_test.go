package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"smc-trading-bot/config"
)

func newSourceServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/everything", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Query().Get("apiKey") != "news-key" || r.URL.Query().Get("q") != "XAUUSD OR gold" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":"ok","articles":[{"title":"Gold prices surge to record high"},{"title":"Dollar weak"}]}`))
	})
	mux.HandleFunc("/r/Forex/hot.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"children":[{"data":{"title":"Gold will crash and fall"}}]}}`))
	})
	mux.HandleFunc("/r/Gold/hot.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return httptest.NewServer(mux)
}

func testConfig(base string) config.SentimentConfig {
	return config.SentimentConfig{
		Enabled:     true,
		NewsAPIKey:  "news-key",
		NewsAPIURL:  base + "/v2/everything",
		RedditURL:   base,
		Reddit:      true,
		TimeoutSec:  2,
		CacheTTLSec: 300,
	}
}

func TestAnalyzerScoresSources(t *testing.T) {
	var hits int32
	srv := newSourceServer(t, &hits)
	defer srv.Close()

	a := NewAnalyzer(testConfig(srv.URL), nil, nil)
	r := a.Get(context.Background(), "XAUUSD")

	// 3 bullish words against 1 bearish in the news titles
	if r.News != Bullish {
		t.Errorf("Expected bullish news, got %s", r.News)
	}
	// one subreddit failed, the other is bearish
	if r.Social != Bearish {
		t.Errorf("Expected bearish social, got %s", r.Social)
	}
}

func TestAnalyzerCachesPerAsset(t *testing.T) {
	var hits int32
	srv := newSourceServer(t, &hits)
	defer srv.Close()

	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	a := NewAnalyzer(testConfig(srv.URL), nil, nil)
	a.now = func() time.Time { return now }

	a.Get(context.Background(), "XAUUSD")
	a.Get(context.Background(), "XAUUSD")
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("Expected one news request within the TTL, got %d", hits)
	}

	now = now.Add(6 * time.Minute)
	a.Get(context.Background(), "XAUUSD")
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected a refresh after the TTL, got %d requests", hits)
	}
}

func TestAnalyzerDegradesToNeutral(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	a := NewAnalyzer(cfg, nil, nil)
	if r := a.Get(context.Background(), "XAUUSD"); r.News != Neutral || r.Social != Neutral {
		t.Errorf("Expected neutral when sources are down, got %+v", r)
	}

	cfg.NewsAPIKey = ""
	cfg.Reddit = false
	a = NewAnalyzer(cfg, nil, nil)
	if r := a.Get(context.Background(), "US100"); r != (Result{News: Neutral, Social: Neutral, UpdatedAt: r.UpdatedAt}) {
		t.Errorf("Expected neutral without keys, got %+v", r)
	}

	if r := NewAnalyzer(config.SentimentConfig{}, nil, nil).Get(context.Background(), "XAUUSD"); r != NeutralResult() {
		t.Errorf("Expected neutral when disabled, got %+v", r)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text       string
		bull, bear int
		want       string
	}{
		{"Stocks rally on strong growth", 3, 0, Bullish},
		{"Nasdaq plunge as fear grips markets", 0, 2, Bearish},
		{"Gold up then down", 1, 1, Neutral},
		{"", 0, 0, Neutral},
	}
	for _, tt := range tests {
		bull, bear := countWords(tt.text)
		if bull != tt.bull || bear != tt.bear {
			t.Errorf("countWords(%q) = %d/%d, expected %d/%d", tt.text, bull, bear, tt.bull, tt.bear)
		}
		if got := resolve(bull, bear); got != tt.want {
			t.Errorf("resolve for %q = %s, expected %s", tt.text, got, tt.want)
		}
	}
}
