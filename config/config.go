package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config holds all runtime settings of the bot
type Config struct {
	Trading        TradingConfig        `json:"trading"`
	Sessions       SessionsConfig       `json:"sessions"`
	Risk           RiskConfig           `json:"risk"`
	Retry          RetryConfig          `json:"retry"`
	Broker         BrokerConfig         `json:"broker"`
	LLM            LLMConfig            `json:"llm"`
	Sentiment      SentimentConfig      `json:"sentiment"`
	Database       DatabaseConfig       `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	Vault          VaultConfig          `json:"vault"`
	Server         ServerConfig         `json:"server"`
	Logging        LoggingConfig        `json:"logging"`
	Notification   NotificationConfig   `json:"notification"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

type TradingConfig struct {
	Assets              []string `json:"assets" default:"[\"XAUUSD\",\"US100\"]" validate:"min=1,dive,required"`
	Timeframe           string   `json:"timeframe" default:"M5" validate:"oneof=M1 M5 M15 M30 H1"`
	Timezone            string   `json:"timezone" default:"Europe/Paris" validate:"required"`
	AnalysisIntervalSec int      `json:"analysis_interval_sec" default:"10" validate:"gte=1"`
	MonitorIntervalSec  int      `json:"monitor_interval_sec" default:"30" validate:"gte=1"`
	CandlesAnalysis     int      `json:"candles_analysis" default:"20" validate:"gte=3"`
	CandlesLevels       int      `json:"candles_levels" default:"500" validate:"gte=1"`
	DryRun              bool     `json:"dry_run"`
}

type SessionsConfig struct {
	Asia      string `json:"asia" default:"00:00-09:00" validate:"required"`
	London    string `json:"london" default:"09:00-14:30" validate:"required"`
	Execution string `json:"execution" default:"14:30-21:00" validate:"required"`
}

type RiskConfig struct {
	RiskPerTrade      float64 `json:"risk_per_trade" default:"0.01" validate:"gt=0,lte=0.1"`
	MaxTradesPerDay   int     `json:"max_trades_per_day" default:"2" validate:"gte=1"`
	MinRR             float64 `json:"min_rr" default:"1.5" validate:"gt=0"`
	DedupWindowMin    int     `json:"dedup_window_min" default:"15" validate:"gte=0"`
	PriceTolerance    float64 `json:"price_tolerance" default:"0.001" validate:"gt=0,lt=0.1"`
	FallbackTolerance float64 `json:"fallback_tolerance" default:"0.005" validate:"gt=0,lt=0.1"`
}

type RetryConfig struct {
	MaxAttempts int   `json:"max_attempts" default:"3" validate:"gte=1"`
	BackoffSec  []int `json:"backoff_sec" default:"[30,60,120]" validate:"min=1,dive,gte=0"`
}

type BrokerConfig struct {
	Mode              string  `json:"mode" default:"paper" validate:"oneof=paper bridge"`
	BridgeURL         string  `json:"bridge_url" default:"http://localhost:18812"`
	StreamURL         string  `json:"stream_url"`
	APIKey            string  `json:"api_key"`
	Login             int64   `json:"login"`
	Server            string  `json:"server"`
	RequestsPerSecond float64 `json:"requests_per_second" default:"10" validate:"gt=0"`
	Magic             int64   `json:"magic" default:"20240101"`
	Deviation         int     `json:"deviation" default:"20" validate:"gte=0"`
	PaperBalance      float64 `json:"paper_balance" default:"10000" validate:"gt=0"`
	PaperSeed         int64   `json:"paper_seed" default:"1"`
}

type LLMProviderConfig struct {
	Provider    string  `json:"provider" validate:"oneof=claude groq openai deepseek"`
	Model       string  `json:"model" validate:"required"`
	APIKey      string  `json:"-"`
	BaseURL     string  `json:"base_url"`
	MaxTokens   int     `json:"max_tokens" default:"1024" validate:"gte=1"`
	Temperature float64 `json:"temperature" default:"0.1" validate:"gte=0,lte=2"`
	TimeoutSec  int     `json:"timeout_sec" default:"30" validate:"gte=1"`
}

type LLMConfig struct {
	Primary  LLMProviderConfig `json:"primary"`
	Fallback LLMProviderConfig `json:"fallback"`
	Attempts int               `json:"attempts" default:"2" validate:"gte=1"`
}

type SentimentConfig struct {
	Enabled     bool   `json:"enabled" default:"true"`
	NewsAPIKey  string `json:"-"`
	NewsAPIURL  string `json:"newsapi_url" default:"https://newsapi.org/v2/everything"`
	RedditURL   string `json:"reddit_url" default:"https://www.reddit.com"`
	Reddit      bool   `json:"reddit" default:"true"`
	TimeoutSec  int    `json:"timeout_sec" default:"10" validate:"gte=1"`
	CacheTTLSec int    `json:"cache_ttl_sec" default:"300" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver" default:"postgres" validate:"oneof=postgres memory"`
	Host     string `json:"host" default:"localhost"`
	Port     int    `json:"port" default:"5432"`
	User     string `json:"user" default:"trader"`
	Password string `json:"-"`
	Name     string `json:"name" default:"smc_bot"`
	SSLMode  string `json:"sslmode" default:"disable"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address" default:"localhost:6379"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address" default:"http://localhost:8200"`
	Token      string `json:"-"`
	MountPath  string `json:"mount_path" default:"secret"`
	SecretPath string `json:"secret_path" default:"smc-bot"`
}

type ServerConfig struct {
	Enabled        bool     `json:"enabled" default:"true"`
	Host           string   `json:"host" default:"0.0.0.0"`
	Port           int      `json:"port" default:"8090" validate:"gte=1,lte=65535"`
	ProductionMode bool     `json:"production_mode"`
	JWTSecret      string   `json:"-"`
	AllowedOrigins []string `json:"allowed_origins" default:"[\"http://localhost:5173\"]"`
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level       string `json:"level" default:"info"`
	Output      string `json:"output" default:"stdout"`
	JSONFormat  bool   `json:"json_format" default:"true"`
	IncludeFile bool   `json:"include_file"`
	Persist     bool   `json:"persist" default:"true"`
}

type NotificationConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled" default:"true"`
	MaxConsecutiveFails int  `json:"max_consecutive_fails" default:"5" validate:"gte=1"`
	CooldownSec         int  `json:"cooldown_sec" default:"120" validate:"gte=1"`
}

var validate = validator.New()

// Load builds the configuration from defaults, the optional JSON file
// (CONFIG_FILE, default config.json) and environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated only from default tags
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if err := defaults.Set(c); err != nil {
		// default tags are static; a failure here is a programming error
		panic(fmt.Sprintf("config: invalid default tag: %v", err))
	}
	if c.LLM.Primary.Provider == "" {
		c.LLM.Primary.Provider = "claude"
	}
	if c.LLM.Primary.Model == "" {
		c.LLM.Primary.Model = "claude-sonnet-4-6"
	}
	if c.LLM.Fallback.Provider == "" {
		c.LLM.Fallback.Provider = "groq"
	}
	if c.LLM.Fallback.Model == "" {
		c.LLM.Fallback.Model = "llama-3.3-70b-versatile"
	}
}

// loadFromFile overlays a JSON file on top of the defaults. A missing
// file is not an error.
func loadFromFile(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Trading
	if assets := os.Getenv("TRADING_ASSETS"); assets != "" {
		cfg.Trading.Assets = splitList(assets)
	}
	cfg.Trading.Timezone = getEnvOrDefault("TRADING_TIMEZONE", cfg.Trading.Timezone)
	cfg.Trading.AnalysisIntervalSec = getEnvIntOrDefault("ANALYSIS_INTERVAL_SEC", cfg.Trading.AnalysisIntervalSec)
	cfg.Trading.MonitorIntervalSec = getEnvIntOrDefault("MONITOR_INTERVAL_SEC", cfg.Trading.MonitorIntervalSec)
	cfg.Trading.DryRun = getEnvBoolOrDefault("DRY_RUN", cfg.Trading.DryRun)

	// Sessions
	cfg.Sessions.Execution = getEnvOrDefault("EXECUTION_WINDOW", cfg.Sessions.Execution)

	// Risk
	cfg.Risk.RiskPerTrade = getEnvFloatOrDefault("RISK_PER_TRADE", cfg.Risk.RiskPerTrade)
	cfg.Risk.MaxTradesPerDay = getEnvIntOrDefault("MAX_TRADES_PER_DAY", cfg.Risk.MaxTradesPerDay)
	cfg.Risk.MinRR = getEnvFloatOrDefault("MIN_RR", cfg.Risk.MinRR)
	cfg.Risk.DedupWindowMin = getEnvIntOrDefault("DEDUP_WINDOW_MIN", cfg.Risk.DedupWindowMin)

	// Broker
	cfg.Broker.Mode = getEnvOrDefault("BROKER_MODE", cfg.Broker.Mode)
	cfg.Broker.BridgeURL = getEnvOrDefault("BROKER_BRIDGE_URL", cfg.Broker.BridgeURL)
	cfg.Broker.StreamURL = getEnvOrDefault("BROKER_STREAM_URL", cfg.Broker.StreamURL)
	cfg.Broker.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.Broker.APIKey)
	cfg.Broker.Server = getEnvOrDefault("BROKER_SERVER", cfg.Broker.Server)
	if login := os.Getenv("BROKER_LOGIN"); login != "" {
		if v, err := strconv.ParseInt(login, 10, 64); err == nil {
			cfg.Broker.Login = v
		}
	}

	// LLM
	cfg.LLM.Primary.APIKey = getEnvOrDefault("ANTHROPIC_API_KEY", cfg.LLM.Primary.APIKey)
	cfg.LLM.Primary.Model = getEnvOrDefault("CLAUDE_MODEL", cfg.LLM.Primary.Model)
	cfg.LLM.Fallback.APIKey = getEnvOrDefault("GROQ_API_KEY", cfg.LLM.Fallback.APIKey)
	cfg.LLM.Fallback.Model = getEnvOrDefault("GROQ_MODEL", cfg.LLM.Fallback.Model)
	cfg.LLM.Primary.TimeoutSec = getEnvIntOrDefault("LLM_TIMEOUT_SEC", cfg.LLM.Primary.TimeoutSec)

	// Sentiment
	cfg.Sentiment.NewsAPIKey = getEnvOrDefault("NEWSAPI_KEY", cfg.Sentiment.NewsAPIKey)

	// Database
	cfg.Database.Driver = getEnvOrDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Vault
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	// Server
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.Server.ProductionMode)

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	// Notification
	cfg.Notification.WebhookURL = getEnvOrDefault("NOTIFY_WEBHOOK_URL", cfg.Notification.WebhookURL)
	if cfg.Notification.WebhookURL != "" {
		cfg.Notification.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", true)
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Trading.Timezone, err)
	}
	for name, raw := range map[string]string{
		"asia":      c.Sessions.Asia,
		"london":    c.Sessions.London,
		"execution": c.Sessions.Execution,
	} {
		if _, err := ParseSessionWindow(raw); err != nil {
			return fmt.Errorf("invalid config: session %s: %w", name, err)
		}
	}
	return nil
}

// Location returns the trading timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.Trading.AnalysisIntervalSec) * time.Second
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Trading.MonitorIntervalSec) * time.Second
}

// BarDuration is the length of one Trading.Timeframe bar
func (c *Config) BarDuration() time.Duration {
	switch c.Trading.Timeframe {
	case "M1":
		return time.Minute
	case "M15":
		return 15 * time.Minute
	case "M30":
		return 30 * time.Minute
	case "H1":
		return time.Hour
	}
	return 5 * time.Minute
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Risk.DedupWindowMin) * time.Minute
}

// RetryBackoff converts the configured backoff list to durations
func (c *Config) RetryBackoff() []time.Duration {
	out := make([]time.Duration, len(c.Retry.BackoffSec))
	for i, s := range c.Retry.BackoffSec {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
