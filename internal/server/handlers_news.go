package server

import (
	"net/http"
	"strconv"
	"time"
)

// handleNewsFetch handles POST /api/news/fetch. Body: {"code": "...", "days": N}.
func (s *Server) handleNewsFetch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Code string `json:"code"`
		Days int    `json:"days"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Days <= 0 {
		req.Days = s.app.Config.News.GetDays()
	}

	items, err := s.app.NewsService.FetchAndStore(r.Context(), req.Code, req.Days)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, map[string]interface{}{
		"fetched": len(items),
		"items":   items,
	})
}

// handleNews handles GET /api/news?code=&days=&limit=.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	days, _ := strconv.Atoi(q.Get("days"))
	if days <= 0 {
		days = s.app.Config.News.GetDays()
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	since := time.Now().AddDate(0, 0, -days)
	items, err := s.app.NewsService.Recent(r.Context(), q.Get("code"), since, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, items)
}
