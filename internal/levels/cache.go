package levels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/logging"
)

// Fetcher loads the candle history levels are computed from
type Fetcher func(ctx context.Context, asset string) ([]broker.Candle, error)

// Mirror persists computed level sets outside the process
type Mirror interface {
	Load(ctx context.Context, asset, date string) (*LevelSet, error)
	Store(ctx context.Context, set LevelSet) error
}

// Cache keeps one LevelSet per instrument for the current calendar day
type Cache struct {
	mu      sync.Mutex
	entries map[string]LevelSet

	loc     *time.Location
	windows Windows
	fetch   Fetcher
	mirror  Mirror
	logger  *logging.Logger
}

// NewCache creates a levels cache. mirror may be nil.
func NewCache(loc *time.Location, w Windows, fetch Fetcher, mirror Mirror, logger *logging.Logger) *Cache {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		entries: make(map[string]LevelSet),
		loc:     loc,
		windows: w,
		fetch:   fetch,
		mirror:  mirror,
		logger:  logger.WithComponent("levels"),
	}
}

// Get returns asset's levels for now's date, computing them on a miss.
// A fetch error is returned without caching anything.
func (c *Cache) Get(ctx context.Context, asset string, now time.Time) (LevelSet, error) {
	date := now.In(c.loc).Format(DateLayout)

	c.mu.Lock()
	set, ok := c.entries[asset]
	c.mu.Unlock()
	if ok && set.AsOf == date {
		return set, nil
	}

	if c.mirror != nil {
		mirrored, err := c.mirror.Load(ctx, asset, date)
		if err != nil {
			c.logger.Debug("levels mirror miss", "asset", asset, "date", date, "error", err)
		} else if mirrored != nil && mirrored.AsOf == date {
			c.put(*mirrored)
			return *mirrored, nil
		}
	}

	candles, err := c.fetch(ctx, asset)
	if err != nil {
		return LevelSet{}, fmt.Errorf("error fetching level candles for %s: %w", asset, err)
	}

	set = Compute(asset, candles, now, c.loc, c.windows)
	c.put(set)
	c.logger.Info("levels computed",
		"asset", asset,
		"date", set.AsOf,
		"asia_high", fmtLevel(set.Asia.High), "asia_low", fmtLevel(set.Asia.Low),
		"london_high", fmtLevel(set.London.High), "london_low", fmtLevel(set.London.Low),
		"prev_day_high", fmtLevel(set.PrevDay.High), "prev_day_low", fmtLevel(set.PrevDay.Low),
	)

	if c.mirror != nil {
		if err := c.mirror.Store(ctx, set); err != nil {
			c.logger.Warn("failed to mirror levels", "asset", asset, "error", err)
		}
	}
	return set, nil
}

// Peek returns the cached set without computing anything
func (c *Cache) Peek(asset string) (LevelSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[asset]
	return set, ok
}

// Invalidate drops asset's entry. An empty asset drops all entries.
func (c *Cache) Invalidate(asset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if asset == "" {
		c.entries = make(map[string]LevelSet)
		return
	}
	delete(c.entries, asset)
}

func (c *Cache) put(set LevelSet) {
	c.mu.Lock()
	c.entries[set.Asset] = set
	c.mu.Unlock()
}

func fmtLevel(p *float64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%.5f", *p)
}
