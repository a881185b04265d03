package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"smc-trading-bot/internal/auth"
	"smc-trading-bot/internal/database"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// READ HANDLERS
// ============================================================================

// handleHealth reports liveness and store reachability
func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":   "healthy",
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
		"database": "ok",
		"ws_peers": s.hub.GetClientCount(),
	}

	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		status["status"] = "unhealthy"
		status["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleStatus returns the orchestrator snapshot
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.botAPI.Status(c.Request.Context()))
}

// handleSignals returns recent signals, newest first
func (s *Server) handleSignals(c *gin.Context) {
	signals, err := s.store.ListSignals(c.Request.Context(), database.SignalFilter{
		Asset: strings.ToUpper(c.Query("asset")),
		Limit: queryLimit(c),
	})
	if err != nil {
		s.logger.Error("failed to list signals", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signals")
		return
	}

	successResponse(c, signals)
}

// handleTrades returns ledger entries, newest first
func (s *Server) handleTrades(c *gin.Context) {
	status := strings.ToLower(c.Query("status"))
	if status != "" && status != database.TradeStatusOpen && status != database.TradeStatusClosed {
		errorResponse(c, http.StatusBadRequest, "status must be open or closed")
		return
	}

	trades, err := s.store.ListTrades(c.Request.Context(), database.TradeFilter{
		Asset:  strings.ToUpper(c.Query("asset")),
		Status: status,
		Limit:  queryLimit(c),
	})
	if err != nil {
		s.logger.Error("failed to list trades", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch trades")
		return
	}

	successResponse(c, trades)
}

// handleStats returns per-asset, per-day performance rows
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetPerformanceStats(c.Request.Context(), strings.ToUpper(c.Query("asset")))
	if err != nil {
		s.logger.Error("failed to load performance stats", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}

	successResponse(c, stats)
}

// handleLevels returns today's liquidity levels for a configured asset
func (s *Server) handleLevels(c *gin.Context) {
	asset := strings.ToUpper(c.Param("asset"))
	if !s.knownAsset(asset) {
		errorResponse(c, http.StatusNotFound, "Unknown asset "+asset)
		return
	}

	set, err := s.levels.Get(c.Request.Context(), asset, time.Now())
	if err != nil {
		s.logger.Warn("failed to compute levels", "asset", asset, "error", err)
		errorResponse(c, http.StatusBadGateway, "Levels unavailable")
		return
	}

	successResponse(c, set)
}

// ============================================================================
// CONTROL HANDLERS
// ============================================================================

// handlePause stops new analysis until resumed
func (s *Server) handlePause(c *gin.Context) {
	if err := s.botAPI.Pause(c.Request.Context()); err != nil {
		s.logger.Error("failed to pause bot", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to pause bot")
		return
	}

	s.logger.Info("bot paused", "operator", auth.GetSubject(c))
	successResponse(c, gin.H{"paused": true})
}

// handleResume re-enables analysis
func (s *Server) handleResume(c *gin.Context) {
	if err := s.botAPI.Resume(c.Request.Context()); err != nil {
		s.logger.Error("failed to resume bot", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to resume bot")
		return
	}

	s.logger.Info("bot resumed", "operator", auth.GetSubject(c))
	successResponse(c, gin.H{"paused": false})
}

// handleReconcile queues an immediate reconcile pass
func (s *Server) handleReconcile(c *gin.Context) {
	queued := s.botAPI.TriggerReconcile()
	s.logger.Info("reconcile requested", "operator", auth.GetSubject(c), "queued", queued)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    gin.H{"queued": queued},
	})
}

func (s *Server) knownAsset(asset string) bool {
	for _, a := range s.config.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

func queryLimit(c *gin.Context) int {
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return database.DefaultListLimit
}
