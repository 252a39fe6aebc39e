package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/models"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Runtime configuration
	mux.HandleFunc("/api/config/tokens", s.handleConfigTokens)
	mux.HandleFunc("/api/config/primary", s.handleConfigPrimary)
	mux.HandleFunc("/api/config", s.handleConfig)

	// Market data
	mux.HandleFunc("/api/data/funds", s.handleFundList)
	mux.HandleFunc("/api/data/fund/", s.routeFund)
	mux.HandleFunc("/api/data/stock/", s.routeStock)
	mux.HandleFunc("/api/data/index/", s.routeIndex)
	mux.HandleFunc("/api/data/sources", s.handleSources)

	// Assets
	mux.HandleFunc("/api/assets/transactions/", s.handleTransactionByID)
	mux.HandleFunc("/api/assets/transactions", s.handleTransactions)
	mux.HandleFunc("/api/assets/holdings/", s.routeHoldings)
	mux.HandleFunc("/api/assets/holdings", s.handleHoldings)
	mux.HandleFunc("/api/assets/capital", s.handleCapital)
	mux.HandleFunc("/api/assets/summary", s.handleAssetsSummary)
	mux.HandleFunc("/api/assets/sync", s.handleSync)

	// Decisions and advice
	mux.HandleFunc("/api/decisions/", s.handleDecisionByID)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/advice/prompt", s.handleAdvicePrompt)
	mux.HandleFunc("/api/advice", s.handleAdvice)

	// News
	mux.HandleFunc("/api/news/fetch", s.handleNewsFetch)
	mux.HandleFunc("/api/news", s.handleNews)

	// Role prompts
	mux.HandleFunc("/api/prompts/role/versions", s.handleRolePromptVersions)
	mux.HandleFunc("/api/prompts/role", s.handleRolePrompt)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteData(w, map[string]interface{}{
		"status":  "ok",
		"version": common.GetVersion(),
		"uptime":  time.Since(s.app.StartupTime).String(),
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteData(w, map[string]string{
		"version": common.GetVersion(),
		"full":    common.GetFullVersion(),
	})
}

// handleConfig handles GET /api/config. Tokens are masked on the way out.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	tokens := s.app.Config.Providers.Tushare.Tokens
	if kvTokens := common.ResolveTushareTokens(r.Context(), s.app.Storage.SystemKV(), tokens); len(kvTokens) > 0 {
		tokens = kvTokens
	}
	masked := make([]string, 0, len(tokens))
	for _, t := range tokens {
		masked = append(masked, common.MaskToken(t))
	}

	WriteData(w, map[string]interface{}{
		"environment":       s.app.Config.Environment,
		"primary_provider":  s.app.MarketDataService.Primary(),
		"tushare_tokens":    masked,
		"news_feeds":        s.app.Config.News.FeedURLs,
		"sync_interval":     s.app.Config.Sync.Interval,
		"advice_configured": s.app.AdviceClient != nil,
	})
}

// handleSources handles GET /api/data/sources.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteData(w, map[string]interface{}{
		"primary":   s.app.MarketDataService.Primary(),
		"effective": s.app.MarketDataService.EffectiveSources(),
	})
}

// handleConfigPrimary handles PUT /api/config/primary.
func (s *Server) handleConfigPrimary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}

	var req struct {
		Primary string `json:"primary"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	source := models.Source(req.Primary)
	if !models.ValidSource(source) {
		WriteError(w, http.StatusBadRequest, "primary must be eastmoney or tushare")
		return
	}

	if err := s.app.Storage.SystemKV().Set(r.Context(), common.KVKeyPrimaryProvider, string(source)); err != nil {
		WriteServiceError(w, err)
		return
	}
	s.app.MarketDataService.SetPrimary(source)

	WriteData(w, map[string]interface{}{"primary": source})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	WriteData(w, map[string]string{"status": "shutting down"})

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
