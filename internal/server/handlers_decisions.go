package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/fundterm/internal/models"
	"github.com/bobmcallan/fundterm/internal/services/prompt"
)

// decisionRequest is the wire shape of POST /api/decisions.
type decisionRequest struct {
	FundCode      string   `json:"fund_code"`
	UserAction    string   `json:"user_action"`
	Prompt        string   `json:"prompt,omitempty"`
	Response      string   `json:"response,omitempty"`
	AmountRMB     *float64 `json:"amount_rmb,omitempty"`
	Nav           *float64 `json:"nav,omitempty"`
	Fee           *float64 `json:"fee,omitempty"`
	PnL           *float64 `json:"pnl,omitempty"`
	CapitalBefore *float64 `json:"capital_before,omitempty"`
	CapitalAfter  *float64 `json:"capital_after,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// handleDecisions handles POST (apply) and GET (list) /api/decisions.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req decisionRequest
		if !DecodeJSON(w, r, &req) {
			return
		}

		decision := &models.DecisionLog{
			FundCode:      req.FundCode,
			UserAction:    models.UserAction(req.UserAction),
			Prompt:        req.Prompt,
			Response:      req.Response,
			AmountRMB:     req.AmountRMB,
			Nav:           req.Nav,
			Fee:           req.Fee,
			PnL:           req.PnL,
			CapitalBefore: req.CapitalBefore,
			CapitalAfter:  req.CapitalAfter,
			Notes:         req.Notes,
		}
		if err := s.app.LedgerService.ApplyDecision(r.Context(), decision); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, decision)

	case http.MethodGet:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		skip, _ := strconv.Atoi(q.Get("skip"))

		decisions, err := s.app.LedgerService.ListDecisions(r.Context(),
			q.Get("fund_code"), models.UserAction(q.Get("action")), limit, skip)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, decisions)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleDecisionByID handles DELETE /api/decisions/{id}.
func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := PathParam(r, "/api/decisions/", "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "decision id is required in path")
		return
	}

	if err := s.app.LedgerService.DeleteDecision(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, map[string]string{"deleted": id})
}

// composeForFund builds the advisory prompt for a fund from its stored news.
func (s *Server) composeForFund(r *http.Request, code string, days int) (string, error) {
	if days <= 0 {
		days = s.app.Config.News.GetDays()
	}
	since := time.Now().AddDate(0, 0, -days)

	items, err := s.app.NewsService.Recent(r.Context(), code, since, 50)
	if err != nil {
		return "", err
	}

	name := s.app.MarketDataService.Name(r.Context(), code, models.AssetFund)
	return prompt.Compose(name, code, items), nil
}

// handleAdvicePrompt handles GET /api/advice/prompt?code=&days=. It returns
// the composed prompt without calling the model.
func (s *Server) handleAdvicePrompt(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		WriteError(w, http.StatusBadRequest, "code query parameter is required")
		return
	}
	days, _ := strconv.Atoi(q.Get("days"))

	composed, err := s.composeForFund(r, code, days)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, map[string]string{"prompt": composed})
}

// handleAdvice handles POST /api/advice. Body: {"fund_code": "...", "days": N}.
func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.AdviceClient == nil {
		WriteError(w, http.StatusServiceUnavailable, "advice client not configured")
		return
	}

	var req struct {
		FundCode string `json:"fund_code"`
		Days     int    `json:"days"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.FundCode == "" {
		WriteError(w, http.StatusBadRequest, "fund_code is required")
		return
	}

	composed, err := s.composeForFund(r, req.FundCode, req.Days)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	rolePrompt := ""
	if rp, err := s.app.Storage.PromptStore().GetRolePrompt(r.Context(), 0); err == nil && rp != nil {
		rolePrompt = rp.Content
	}

	advice, err := s.app.AdviceClient.GenerateAdvice(r.Context(), rolePrompt, composed)
	if err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteData(w, map[string]string{
		"fund_code": req.FundCode,
		"prompt":    composed,
		"advice":    advice,
	})
}
