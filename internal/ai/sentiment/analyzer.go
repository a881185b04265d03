package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/cache"
	"smc-trading-bot/internal/logging"
)

// Sentiment labels
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Result is the sentiment for one asset
type Result struct {
	News      string    `json:"news"`
	Social    string    `json:"social"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeutralResult is returned when nothing could be fetched
func NeutralResult() Result {
	return Result{News: Neutral, Social: Neutral}
}

var bullishWords = map[string]bool{
	"surge": true, "rally": true, "gain": true, "rise": true, "bull": true, "up": true, "high": true,
	"record": true, "soar": true, "jump": true, "boost": true, "growth": true, "positive": true, "strong": true,
}

var bearishWords = map[string]bool{
	"crash": true, "fall": true, "drop": true, "decline": true, "bear": true, "down": true, "low": true,
	"plunge": true, "sink": true, "loss": true, "weak": true, "negative": true, "fear": true, "sell": true,
}

var newsQueries = map[string]string{
	"XAUUSD": "XAUUSD OR gold",
	"US100":  "NASDAQ OR US100 OR nasdaq100 OR tech stocks",
}

var subreddits = map[string][]string{
	"XAUUSD": {"Forex", "Gold"},
	"US100":  {"investing", "stocks"},
}

// JSONStore is an optional shared cache for results
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Analyzer scores news titles and reddit posts by keyword counting.
// Every failure degrades to neutral.
type Analyzer struct {
	config     config.SentimentConfig
	httpClient *http.Client
	store      JSONStore
	logger     *logging.Logger

	mu    sync.RWMutex
	cache map[string]Result
	now   func() time.Time
}

// NewAnalyzer creates a sentiment analyzer. store may be nil.
func NewAnalyzer(cfg config.SentimentConfig, store JSONStore, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Analyzer{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logger.WithComponent("sentiment"),
		cache:      make(map[string]Result),
		now:        time.Now,
	}
}

func (a *Analyzer) ttl() time.Duration {
	return time.Duration(a.config.CacheTTLSec) * time.Second
}

// Get returns the news and social sentiment for asset
func (a *Analyzer) Get(ctx context.Context, asset string) Result {
	if !a.config.Enabled {
		return NeutralResult()
	}

	if r, ok := a.cached(ctx, asset); ok {
		return r
	}

	r := Result{
		News:      a.newsSentiment(ctx, asset),
		Social:    a.redditSentiment(ctx, asset),
		UpdatedAt: a.now(),
	}
	a.logger.Info("sentiment updated", "asset", asset, "news", r.News, "social", r.Social)

	if a.ttl() > 0 {
		a.mu.Lock()
		a.cache[asset] = r
		a.mu.Unlock()
		if a.store != nil {
			if err := a.store.SetJSON(ctx, cache.SentimentKey(asset), r, a.ttl()); err != nil {
				a.logger.Debug("sentiment mirror write failed", "asset", asset, "error", err)
			}
		}
	}
	return r
}

func (a *Analyzer) cached(ctx context.Context, asset string) (Result, bool) {
	if a.ttl() <= 0 {
		return Result{}, false
	}
	a.mu.RLock()
	r, ok := a.cache[asset]
	a.mu.RUnlock()
	if ok && a.now().Sub(r.UpdatedAt) < a.ttl() {
		return r, true
	}

	if a.store != nil {
		var shared Result
		if err := a.store.GetJSON(ctx, cache.SentimentKey(asset), &shared); err == nil && shared.News != "" {
			a.mu.Lock()
			a.cache[asset] = shared
			a.mu.Unlock()
			return shared, true
		}
	}
	return Result{}, false
}

type newsResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

func (a *Analyzer) newsSentiment(ctx context.Context, asset string) string {
	if a.config.NewsAPIKey == "" {
		return Neutral
	}
	query, ok := newsQueries[asset]
	if !ok {
		return Neutral
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", "10")
	params.Set("apiKey", a.config.NewsAPIKey)

	var resp newsResponse
	if err := a.getJSON(ctx, a.config.NewsAPIURL+"?"+params.Encode(), &resp); err != nil {
		a.logger.Warn("news sentiment unavailable", "asset", asset, "error", err)
		return Neutral
	}

	var bull, bear int
	for _, art := range resp.Articles {
		b, br := countWords(art.Title)
		bull += b
		bear += br
	}
	return resolve(bull, bear)
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title string `json:"title"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (a *Analyzer) redditSentiment(ctx context.Context, asset string) string {
	if !a.config.Reddit {
		return Neutral
	}
	subs, ok := subreddits[asset]
	if !ok {
		return Neutral
	}

	var bull, bear, fetched int
	for _, sub := range subs {
		endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=10", strings.TrimRight(a.config.RedditURL, "/"), url.PathEscape(sub))
		var listing redditListing
		if err := a.getJSON(ctx, endpoint, &listing); err != nil {
			a.logger.Warn("reddit fetch failed", "subreddit", sub, "error", err)
			continue
		}
		fetched++
		for _, child := range listing.Data.Children {
			b, br := countWords(child.Data.Title)
			bull += b
			bear += br
		}
	}
	if fetched == 0 {
		return Neutral
	}
	return resolve(bull, bear)
}

func (a *Analyzer) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "smc-trading-bot/1.0")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// countWords returns the number of bullish and bearish words in text
func countWords(text string) (int, int) {
	var bull, bear int
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if bullishWords[w] {
			bull++
		}
		if bearishWords[w] {
			bear++
		}
	}
	return bull, bear
}

func resolve(bull, bear int) string {
	switch {
	case bull > bear:
		return Bullish
	case bear > bull:
		return Bearish
	default:
		return Neutral
	}
}
