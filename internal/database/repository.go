package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository is the PostgreSQL Store
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

const signalColumns = `id, asset, direction, scenario, confidence, entry_price, sl_price, tp_price, rr_ratio,
	confluences_used, sweep_level, news_sentiment, social_sentiment, trade_valid, reason, llm_used,
	COALESCE(raw_response, ''), executed, created_at`

func scanSignal(row pgx.Row) (*Signal, error) {
	s := &Signal{}
	err := row.Scan(
		&s.ID, &s.Asset, &s.Direction, &s.Scenario, &s.Confidence,
		&s.EntryPrice, &s.SLPrice, &s.TPPrice, &s.RRRatio,
		&s.ConfluencesUsed, &s.SweepLevel, &s.NewsSentiment, &s.SocialSentiment,
		&s.TradeValid, &s.Reason, &s.LLMUsed, &s.RawResponse, &s.Executed, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SaveSignal inserts a signal and fills its ID and creation time
func (r *Repository) SaveSignal(ctx context.Context, sig *Signal) error {
	confluences := sig.ConfluencesUsed
	if confluences == nil {
		confluences = []string{}
	}
	query := `
		INSERT INTO signals (asset, direction, scenario, confidence, entry_price, sl_price, tp_price, rr_ratio,
			confluences_used, sweep_level, news_sentiment, social_sentiment, trade_valid, reason, llm_used, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, COALESCE($17, NOW()))
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		sig.Asset, sig.Direction, sig.Scenario, sig.Confidence,
		sig.EntryPrice, sig.SLPrice, sig.TPPrice, sig.RRRatio,
		confluences, sig.SweepLevel, sig.NewsSentiment, sig.SocialSentiment,
		sig.TradeValid, sig.Reason, sig.LLMUsed, nullString(sig.RawResponse), nullTime(sig.CreatedAt),
	).Scan(&sig.ID, &sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID
func (r *Repository) GetSignal(ctx context.Context, id int64) (*Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`
	s, err := scanSignal(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal %d: %w", id, err)
	}
	return s, nil
}

// MarkSignalExecuted sets the executed flag
func (r *Repository) MarkSignalExecuted(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `UPDATE signals SET executed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark signal %d executed: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSignals returns the newest signals first
func (r *Repository) ListSignals(ctx context.Context, filter SignalFilter) ([]*Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals`
	args := []interface{}{}
	if filter.Asset != "" {
		args = append(args, filter.Asset)
		query += ` WHERE asset = $1`
	}
	args = append(args, normalizeLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// RecentExecutedSignal checks the dedup window
func (r *Repository) RecentExecutedSignal(ctx context.Context, asset, direction, sweepLevel string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM signals
			WHERE asset = $1 AND direction = $2 AND executed AND created_at >= $3
			  AND ($4 = '' OR sweep_level = $4)
		)
	`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, asset, direction, since, sweepLevel).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent signals: %w", err)
	}
	return exists, nil
}

// ============================================================================
// TRADES
// ============================================================================

const tradeColumns = `id, signal_id, asset, direction, entry_price, sl_price, tp_price, lot_size, broker_ticket,
	status, exit_price, pnl, closed_reason, entry_time, exit_time, created_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(
		&t.ID, &t.SignalID, &t.Asset, &t.Direction, &t.EntryPrice, &t.SLPrice, &t.TPPrice,
		&t.LotSize, &t.BrokerTicket, &t.Status, &t.ExitPrice, &t.PnL, &t.ClosedReason,
		&t.EntryTime, &t.ExitTime, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTrade inserts a new open trade
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	query := `
		INSERT INTO trades (signal_id, asset, direction, entry_price, sl_price, tp_price, lot_size, broker_ticket, status, entry_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		trade.SignalID, trade.Asset, trade.Direction, trade.EntryPrice, trade.SLPrice, trade.TPPrice,
		trade.LotSize, trade.BrokerTicket, trade.Status, trade.EntryTime,
	).Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// CloseTrade closes an open trade. The status predicate makes a second
// close a no-op that reports ErrAlreadyClosed.
func (r *Repository) CloseTrade(ctx context.Context, id int64, c TradeClose) error {
	query := `
		UPDATE trades
		SET status = 'closed', exit_price = $2, pnl = $3, closed_reason = $4, exit_time = $5
		WHERE id = $1 AND status = 'open'
	`
	result, err := r.db.Pool.Exec(ctx, query, id, c.ExitPrice, c.PnL, c.Reason, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", id, err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check trade %d: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyClosed
}

// GetTrade retrieves a trade by ID
func (r *Repository) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	t, err := scanTrade(r.db.Pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return t, nil
}

// GetOpenTrades retrieves all open trades, oldest first
func (r *Repository) GetOpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'open' ORDER BY entry_time ASC, id ASC`
	return r.queryTrades(ctx, query)
}

// HasOpenTrade reports an open trade with the same asset and direction
func (r *Repository) HasOpenTrade(ctx context.Context, asset, direction string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trades WHERE asset = $1 AND direction = $2 AND status = 'open')`,
		asset, direction,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open trades: %w", err)
	}
	return exists, nil
}

// ListTrades returns trades newest first
func (r *Repository) ListTrades(ctx context.Context, filter TradeFilter) ([]*Trade, error) {
	var conds []string
	var args []interface{}
	if filter.Asset != "" {
		args = append(args, filter.Asset)
		conds = append(conds, fmt.Sprintf("asset = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, normalizeLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY entry_time DESC, id DESC LIMIT $%d`, len(args))

	return r.queryTrades(ctx, query, args...)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// DAILY COUNTERS
// ============================================================================

// GetDailyCount returns closed trades for asset on date, zero if none
func (r *Repository) GetDailyCount(ctx context.Context, asset, date string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT closed_count FROM daily_trade_counts WHERE asset = $1 AND trade_date = $2`,
		asset, date,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get daily count: %w", err)
	}
	return count, nil
}

// IncrementDailyCount adds one closed trade and returns the new count
func (r *Repository) IncrementDailyCount(ctx context.Context, asset, date string) (int, error) {
	query := `
		INSERT INTO daily_trade_counts (asset, trade_date, closed_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (asset, trade_date) DO UPDATE
		SET closed_count = daily_trade_counts.closed_count + 1
		RETURNING closed_count
	`
	var count int
	if err := r.db.Pool.QueryRow(ctx, query, asset, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment daily count: %w", err)
	}
	return count, nil
}

// ============================================================================
// PERFORMANCE STATS
// ============================================================================

const statColumns = `pattern_key, asset, total_trades, winning_trades, losing_trades, win_rate, avg_rr, total_pnl, updated_at`

// GetPerformanceStats returns stats for asset, or all when asset is empty
func (r *Repository) GetPerformanceStats(ctx context.Context, asset string) ([]PerformanceStat, error) {
	query := `SELECT ` + statColumns + ` FROM performance_stats`
	var args []interface{}
	if asset != "" {
		query += ` WHERE asset = $1`
		args = append(args, asset)
	}
	query += ` ORDER BY asset, pattern_key`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance stats: %w", err)
	}
	defer rows.Close()

	var stats []PerformanceStat
	for rows.Next() {
		var s PerformanceStat
		if err := rows.Scan(&s.PatternKey, &s.Asset, &s.TotalTrades, &s.WinningTrades, &s.LosingTrades,
			&s.WinRate, &s.AvgRR, &s.TotalPnL, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// UpdatePerformanceStat folds one closed trade into its stat row in a
// single upsert
func (r *Repository) UpdatePerformanceStat(ctx context.Context, u StatUpdate) (*PerformanceStat, error) {
	win, loss, winRate := 0, 1, 0.0
	if u.Win {
		win, loss, winRate = 1, 0, 100.0
	}
	query := `
		INSERT INTO performance_stats (pattern_key, asset, total_trades, winning_trades, losing_trades, win_rate, avg_rr, total_pnl, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (pattern_key, asset) DO UPDATE SET
			total_trades = performance_stats.total_trades + 1,
			winning_trades = performance_stats.winning_trades + EXCLUDED.winning_trades,
			losing_trades = performance_stats.losing_trades + EXCLUDED.losing_trades,
			win_rate = (performance_stats.winning_trades + EXCLUDED.winning_trades)::DOUBLE PRECISION * 100
				/ (performance_stats.total_trades + 1),
			avg_rr = (performance_stats.avg_rr * performance_stats.total_trades + EXCLUDED.avg_rr)
				/ (performance_stats.total_trades + 1),
			total_pnl = performance_stats.total_pnl + EXCLUDED.total_pnl,
			updated_at = NOW()
		RETURNING ` + statColumns

	var s PerformanceStat
	err := r.db.Pool.QueryRow(ctx, query, u.PatternKey, u.Asset, win, loss, winRate, u.RR, u.PnL).Scan(
		&s.PatternKey, &s.Asset, &s.TotalTrades, &s.WinningTrades, &s.LosingTrades,
		&s.WinRate, &s.AvgRR, &s.TotalPnL, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update performance stat: %w", err)
	}
	return &s, nil
}

// ============================================================================
// BOT STATE & LOGS
// ============================================================================

// GetState reads a key; ok is false when the key is unset
func (r *Repository) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, `SELECT value FROM bot_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a key
func (r *Repository) SetState(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO bot_state (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// SaveLog persists one log line
func (r *Repository) SaveLog(ctx context.Context, level, message string) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO bot_logs (level, message) VALUES ($1, $2)`, level, message)
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
