package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/fundterm/internal/models"
)

// handleFundList handles GET /api/data/funds?limit=N.
func (s *Server) handleFundList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	funds, err := s.app.MarketDataService.FundList(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, funds)
}

// routeFund dispatches /api/data/fund/{code}/nav and /api/data/fund/{code}/latest.
func (s *Server) routeFund(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/data/fund/")
	parts := strings.SplitN(path, "/", 2)
	code := parts[0]
	if code == "" {
		WriteError(w, http.StatusBadRequest, "fund code is required in path")
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "nav":
		points, err := s.app.MarketDataService.FundNAV(r.Context(), code)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, points)
	case "latest":
		nav, err := s.app.MarketDataService.LatestNav(r.Context(), code)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, map[string]float64{"nav": nav})
	default:
		WriteError(w, http.StatusNotFound, "unknown fund endpoint")
	}
}

// routeStock dispatches /api/data/stock/{symbol}/daily?start=&end=.
func (s *Server) routeStock(w http.ResponseWriter, r *http.Request) {
	s.handleDaily(w, r, "/api/data/stock/", s.app.MarketDataService.StockDaily)
}

// routeIndex dispatches /api/data/index/{symbol}/daily?start=&end=.
func (s *Server) routeIndex(w http.ResponseWriter, r *http.Request) {
	s.handleDaily(w, r, "/api/data/index/", s.app.MarketDataService.IndexDaily)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request, prefix string, fetch func(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error)) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(path, "/", 2)
	symbol := parts[0]
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}
	if len(parts) < 2 || parts[1] != "daily" {
		WriteError(w, http.StatusNotFound, "unknown endpoint")
		return
	}

	q := r.URL.Query()
	bars, err := fetch(r.Context(), symbol, q.Get("start"), q.Get("end"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, bars)
}
