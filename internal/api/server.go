package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"smc-trading-bot/internal/auth"
	"smc-trading-bot/internal/bot"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Store is the read side the API serves
type Store interface {
	HealthCheck(ctx context.Context) error
	ListSignals(ctx context.Context, filter database.SignalFilter) ([]*database.Signal, error)
	ListTrades(ctx context.Context, filter database.TradeFilter) ([]*database.Trade, error)
	GetPerformanceStats(ctx context.Context, asset string) ([]database.PerformanceStat, error)
}

// BotAPI is the control surface of the orchestrator
type BotAPI interface {
	Status(ctx context.Context) bot.Status
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	TriggerReconcile() bool
}

// LevelSource returns an asset's levels for today
type LevelSource interface {
	Get(ctx context.Context, asset string, now time.Time) (levels.LevelSet, error)
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	store       Store
	botAPI      BotAPI
	levels      LevelSource
	metrics     http.Handler
	tokens      *auth.TokenManager
	hub         *WSHub
	config      ServerConfig
	rateLimiter *RateLimiter
	logger      *logging.Logger
	startedAt   time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	Assets         []string
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(
	config ServerConfig,
	store Store,
	botAPI BotAPI,
	levelSource LevelSource,
	metrics http.Handler,
	tokens *auth.TokenManager,
	eventBus *events.EventBus,
	logger *logging.Logger,
) *Server {
	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if logger == nil {
		logger = logging.Default()
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		store:       store,
		botAPI:      botAPI,
		levels:      levelSource,
		metrics:     metrics,
		tokens:      tokens,
		config:      config,
		rateLimiter: NewRateLimiter(30, time.Minute), // 30 control calls per minute per client IP
		logger:      logger.WithComponent("api"),
		startedAt:   time.Now(),
	}
	server.hub = NewWSHub(server.logger)
	go server.hub.Run()
	eventBus.SubscribeAll(server.hub.BroadcastEvent)

	server.setupRoutes()
	return server
}

// requestLogger logs each request through the structured logger
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	log := logger.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

// rateLimitMiddleware rate limits requests per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   auth.ErrRateLimited.Code,
				"message": auth.ErrRateLimited.Message,
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/signals", s.handleSignals)
		api.GET("/trades", s.handleTrades)
		api.GET("/stats", s.handleStats)
		api.GET("/levels/:asset", s.handleLevels)
		api.GET("/ws", s.handleWebSocket)
	}

	control := api.Group("", s.rateLimitMiddleware(), auth.Middleware(s.tokens))
	{
		control.POST("/bot/pause", s.handlePause)
		control.POST("/bot/resume", s.handleResume)
		control.POST("/reconcile", s.handleReconcile)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.hub.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
