package database

import (
	"context"
	"fmt"
	"time"

	"smc-trading-bot/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN builds the libpq connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.WithComponent("database")
	logger.Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info("database migrations completed", "statements", len(migrations))
	return nil
}

var migrations = []string{
	// Signals: every oracle answer, valid or not
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		asset VARCHAR(20) NOT NULL,
		direction VARCHAR(10) NOT NULL DEFAULT 'none',
		scenario VARCHAR(40) NOT NULL DEFAULT 'none',
		confidence INTEGER NOT NULL DEFAULT 0,
		entry_price DECIMAL(20, 8),
		sl_price DECIMAL(20, 8),
		tp_price DECIMAL(20, 8),
		rr_ratio DECIMAL(10, 4),
		confluences_used TEXT[] NOT NULL DEFAULT '{}',
		sweep_level VARCHAR(40) NOT NULL DEFAULT 'none',
		news_sentiment VARCHAR(10) NOT NULL DEFAULT 'neutral',
		social_sentiment VARCHAR(10) NOT NULL DEFAULT 'neutral',
		trade_valid BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT NOT NULL DEFAULT '',
		llm_used VARCHAR(20) NOT NULL DEFAULT 'none',
		raw_response TEXT,
		executed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_asset_created ON signals(asset, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_executed ON signals(executed) WHERE executed`,

	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		signal_id BIGINT REFERENCES signals(id) ON DELETE SET NULL,
		asset VARCHAR(20) NOT NULL,
		direction VARCHAR(10) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL,
		sl_price DECIMAL(20, 8) NOT NULL,
		tp_price DECIMAL(20, 8) NOT NULL,
		lot_size DECIMAL(20, 8) NOT NULL,
		broker_ticket BIGINT,
		status VARCHAR(10) NOT NULL DEFAULT 'open',
		exit_price DECIMAL(20, 8),
		pnl DECIMAL(20, 8),
		closed_reason VARCHAR(10),
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_asset_direction ON trades(asset, direction)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_broker_ticket ON trades(broker_ticket) WHERE broker_ticket IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS daily_trade_counts (
		asset VARCHAR(20) NOT NULL,
		trade_date VARCHAR(10) NOT NULL,
		closed_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (asset, trade_date)
	)`,

	`CREATE TABLE IF NOT EXISTS performance_stats (
		pattern_key VARCHAR(200) NOT NULL,
		asset VARCHAR(20) NOT NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		winning_trades INTEGER NOT NULL DEFAULT 0,
		losing_trades INTEGER NOT NULL DEFAULT 0,
		win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_rr DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (pattern_key, asset)
	)`,

	`CREATE TABLE IF NOT EXISTS bot_state (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS bot_logs (
		id BIGSERIAL PRIMARY KEY,
		level VARCHAR(10) NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_logs_created ON bot_logs(created_at DESC)`,
}
