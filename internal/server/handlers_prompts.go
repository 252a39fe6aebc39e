package server

import (
	"net/http"
	"strconv"
)

// handleRolePrompt handles GET (latest or by version) and POST (new version)
// /api/prompts/role.
func (s *Server) handleRolePrompt(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		version, _ := strconv.Atoi(r.URL.Query().Get("version"))

		rp, err := s.app.Storage.PromptStore().GetRolePrompt(r.Context(), version)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if rp == nil {
			WriteError(w, http.StatusNotFound, "no role prompt stored")
			return
		}
		WriteData(w, rp)

	case http.MethodPost, http.MethodPut:
		var req struct {
			Content string `json:"content"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		if req.Content == "" {
			WriteError(w, http.StatusBadRequest, "content is required")
			return
		}

		rp, err := s.app.Storage.PromptStore().SaveRolePrompt(r.Context(), req.Content)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, rp)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRolePromptVersions handles GET /api/prompts/role/versions.
func (s *Server) handleRolePromptVersions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	prompts, err := s.app.Storage.PromptStore().ListRolePrompts(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, prompts)
}
