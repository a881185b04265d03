package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/admission"
	"smc-trading-bot/internal/ai/llm"
	"smc-trading-bot/internal/ai/sentiment"
	"smc-trading-bot/internal/analysis"
	"smc-trading-bot/internal/api"
	"smc-trading-bot/internal/auth"
	"smc-trading-bot/internal/bot"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/cache"
	"smc-trading-bot/internal/circuit"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/ledger"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"
	"smc-trading-bot/internal/metrics"
	"smc-trading-bot/internal/notification"
	"smc-trading-bot/internal/reconcile"
	"smc-trading-bot/internal/retry"
	smcsignal "smc-trading-bot/internal/signal"
	"smc-trading-bot/internal/vault"

	"github.com/rs/zerolog"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an operator token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx := context.Background()

	// Secrets from Vault fill whatever the environment left empty
	if filled, err := vault.LoadSecrets(ctx, cfg, logger); err != nil {
		logger.Warn("Vault unavailable, using environment secrets", "error", err)
	} else if cfg.Vault.Enabled {
		logger.Info("Vault secrets applied", "filled", filled)
	}

	tokens := auth.NewTokenManager(cfg.Server.JWTSecret)
	if *issueToken != "" {
		token, err := tokens.Issue(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Initialize storage
	var store database.Store
	var db *database.DB
	switch cfg.Database.Driver {
	case "memory":
		store = database.NewMemoryStore()
		logger.Warn("Using in-memory store, state is lost on exit")
	default:
		db, err = database.NewDB(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		store = database.NewRepository(db)
	}

	var storeHook *logging.StoreHook
	if cfg.Logging.Persist {
		storeHook = logging.NewStoreHook(store, zerolog.WarnLevel)
		logger = logger.WithHook(storeHook)
		logging.SetDefault(logger)
	}

	// Redis is optional; both level and sentiment caches run without it
	var redisCache *cache.CacheService
	var levelMirror levels.Mirror
	var sentimentStore sentiment.JSONStore
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewCacheService(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis cache disabled", "error", err)
		} else {
			levelMirror = levels.NewRedisMirror(redisCache)
			sentimentStore = redisCache
		}
	}

	// Broker
	var venue broker.Client
	var quoteStream *broker.QuoteStream
	switch cfg.Broker.Mode {
	case "bridge":
		bridge := broker.NewBridgeClient(broker.BridgeConfig{
			BaseURL:           cfg.Broker.BridgeURL,
			APIKey:            cfg.Broker.APIKey,
			Timeframe:         cfg.Trading.Timeframe,
			RequestsPerSecond: cfg.Broker.RequestsPerSecond,
		})
		if cfg.Broker.StreamURL != "" {
			quoteStream = broker.NewQuoteStream(cfg.Broker.StreamURL, cfg.Trading.Assets, logger)
			quoteStream.Start()
			bridge.AttachStream(quoteStream)
		}
		venue = bridge
	default:
		venue = broker.NewPaperClient(broker.PaperConfig{
			Balance:   cfg.Broker.PaperBalance,
			Seed:      cfg.Broker.PaperSeed,
			Timeframe: cfg.BarDuration(),
		})
		logger.Info("Paper broker active", "balance", cfg.Broker.PaperBalance)
	}

	// Event bus with metrics and notifications
	eventBus := events.NewEventBus()
	recorder := metrics.New()
	recorder.Subscribe(eventBus)

	if cfg.Notification.Enabled {
		notifyManager := notification.NewManager(logger)
		notifyManager.AddNotifier(notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:     cfg.Notification.WebhookURL,
			Enabled: cfg.Notification.Enabled,
		}))
		notifyManager.Subscribe(eventBus)
		logger.Info("Webhook notifications enabled")
	}

	loc := cfg.Location()
	storePolicy := retry.NewPolicy("store", cfg.Retry.MaxAttempts, cfg.RetryBackoff(), logger)

	levelCache := levels.NewCache(loc, levels.Windows{
		Asia:   config.MustSessionWindow(cfg.Sessions.Asia),
		London: config.MustSessionWindow(cfg.Sessions.London),
	}, func(ctx context.Context, asset string) ([]broker.Candle, error) {
		return venue.GetCandles(ctx, asset, cfg.Trading.CandlesLevels)
	}, levelMirror, logger)

	analyzer := sentiment.NewAnalyzer(cfg.Sentiment, sentimentStore, logger)
	oracle := llm.NewOracleFromConfig(cfg, logger)
	pipeline := smcsignal.NewPipeline(analysis.NewDetector(), oracle, analyzer, store, eventBus, logger)

	tradeLedger := ledger.New(store, loc, eventBus, logger)
	gate := admission.NewGate(admission.ConfigFrom(cfg), store, venue, tradeLedger, storePolicy, eventBus, logger)
	reconciler := reconcile.New(reconcile.Config{
		PriceTolerance:    cfg.Risk.PriceTolerance,
		FallbackTolerance: cfg.Risk.FallbackTolerance,
	}, store, venue, tradeLedger, storePolicy, eventBus, logger)

	breaker := circuit.NewBreaker(circuit.Config{
		Enabled:             cfg.CircuitBreaker.Enabled,
		MaxConsecutiveFails: cfg.CircuitBreaker.MaxConsecutiveFails,
		Cooldown:            time.Duration(cfg.CircuitBreaker.CooldownSec) * time.Second,
	})
	breaker.OnTrip(func(reason string) {
		eventBus.PublishError("circuit", "tripped", errors.New(reason))
	})
	breaker.OnReset(func() {
		logger.Info("Circuit breaker closed")
	})

	orchestrator := bot.New(bot.ConfigFrom(cfg), bot.Deps{
		Store:      store,
		Market:     venue,
		Levels:     levelCache,
		Pipeline:   pipeline,
		Gate:       gate,
		Reconciler: reconciler,
		Breaker:    breaker,
		Retry:      retry.NewPolicy("market", cfg.Retry.MaxAttempts, cfg.RetryBackoff(), logger),
		Bus:        eventBus,
		Logger:     logger,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if err := orchestrator.Start(runCtx); err != nil {
		logger.Fatal("Failed to start bot", "error", err)
	}
	logger.Info("Bot started",
		"assets", cfg.Trading.Assets,
		"window", cfg.Sessions.Execution,
		"dry_run", cfg.Trading.DryRun,
		"broker", cfg.Broker.Mode)

	// Control API
	var server *api.Server
	if cfg.Server.Enabled {
		if !tokens.Enabled() {
			logger.Warn("JWT secret not set, control routes will reject every call")
		}
		server = api.NewServer(api.ServerConfig{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ProductionMode: cfg.Server.ProductionMode,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Assets:         cfg.Trading.Assets,
		}, store, orchestrator, levelCache, recorder.Handler(), tokens, eventBus, logger)

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("API server stopped", "error", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Loops finish their current iteration first
	orchestrator.Stop()
	cancelRun()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down API server", "error", err)
		}
	}
	if quoteStream != nil {
		quoteStream.Stop()
	}
	if storeHook != nil {
		storeHook.Close()
	}
	if redisCache != nil {
		redisCache.Close()
	}
	if db != nil {
		db.Close()
	}

	logger.Info("Shutdown complete")
}
