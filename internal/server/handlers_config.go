package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/models"
)

// handleConfigTokens handles GET (masked listing) and PUT (replace + apply)
// /api/config/tokens.
func (s *Server) handleConfigTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tokens := common.ResolveTushareTokens(r.Context(), s.app.Storage.SystemKV(), s.app.Config.Providers.Tushare.Tokens)
		masked := make([]string, 0, len(tokens))
		for _, t := range tokens {
			masked = append(masked, common.MaskToken(t))
		}
		WriteData(w, map[string]interface{}{"tushare_tokens": masked})

	case http.MethodPut, http.MethodPost:
		var req struct {
			Tokens []string `json:"tokens"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}

		var tokens []string
		for _, t := range req.Tokens {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		if len(tokens) == 0 {
			WriteError(w, http.StatusBadRequest, "at least one token is required")
			return
		}

		if err := s.app.Storage.SystemKV().Set(r.Context(), common.KVKeyTushareTokens, strings.Join(tokens, ",")); err != nil {
			WriteServiceError(w, err)
			return
		}
		// apply immediately, no restart needed
		s.app.MarketDataService.SetTokens(models.SourceTushare, tokens)

		WriteData(w, map[string]int{"tokens": len(tokens)})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut)
	}
}
