package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/fundterm/internal/models"
)

// transactionRequest is the wire shape of POST /api/assets/transactions.
type transactionRequest struct {
	Symbol    string   `json:"symbol"`
	AssetType string   `json:"asset_type"`
	Type      string   `json:"type"`
	Quantity  float64  `json:"quantity"`
	Price     float64  `json:"price"`
	Amount    *float64 `json:"amount,omitempty"`
	Date      string   `json:"date"`
}

// handleTransactions handles POST (record) and GET (list) /api/assets/transactions.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req transactionRequest
		if !DecodeJSON(w, r, &req) {
			return
		}

		tx, err := s.app.LedgerService.RecordTransaction(r.Context(), models.TransactionInput{
			Symbol:    req.Symbol,
			AssetType: models.NormalizeAssetType(req.AssetType),
			Type:      models.TransactionType(req.Type),
			Quantity:  req.Quantity,
			Price:     req.Price,
			Amount:    req.Amount,
			Date:      req.Date,
		})
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, tx)

	case http.MethodGet:
		q := r.URL.Query()
		symbol := q.Get("symbol")
		if symbol == "" {
			WriteError(w, http.StatusBadRequest, "symbol query parameter is required")
			return
		}
		txs, err := s.app.LedgerService.ListTransactions(r.Context(), symbol, models.NormalizeAssetType(q.Get("asset_type")))
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, txs)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleTransactionByID handles DELETE /api/assets/transactions/{id} (reversal).
func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := PathParam(r, "/api/assets/transactions/", "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "transaction id is required in path")
		return
	}

	if err := s.app.LedgerService.ReverseTransaction(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, map[string]string{"reversed": id})
}

// handleHoldings handles GET /api/assets/holdings.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	positions, err := s.app.LedgerService.ListPositions(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, positions)
}

// routeHoldings dispatches /api/assets/holdings/{symbol} and
// /api/assets/holdings/{symbol}/history.
func (s *Server) routeHoldings(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/assets/holdings/")
	parts := strings.SplitN(path, "/", 2)
	symbol := parts[0]
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}

	assetType := models.NormalizeAssetType(r.URL.Query().Get("asset_type"))

	if len(parts) > 1 && parts[1] == "history" {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		history, err := s.app.Storage.HistoryStore().Get(r.Context(), models.NormalizeSymbol(symbol, assetType), assetType)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if history == nil {
			WriteError(w, http.StatusNotFound, "no history cached for "+symbol)
			return
		}
		WriteData(w, history)
		return
	}

	switch r.Method {
	case http.MethodGet:
		summary, err := s.app.LedgerService.HoldingSummary(r.Context(), symbol, assetType)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, summary)

	case http.MethodDelete:
		removed, err := s.app.LedgerService.ClearSymbol(r.Context(), symbol, assetType)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, map[string]int{"transactions_removed": removed})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleCapital handles GET and PUT /api/assets/capital.
func (s *Server) handleCapital(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		capital, err := s.app.LedgerService.GetCapital(r.Context())
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, map[string]float64{"capital": capital})

	case http.MethodPut, http.MethodPost:
		var req struct {
			Capital float64 `json:"capital"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		if err := s.app.LedgerService.SetCapital(r.Context(), req.Capital); err != nil {
			if strings.Contains(err.Error(), "negative") {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			WriteServiceError(w, err)
			return
		}
		WriteData(w, map[string]float64{"capital": req.Capital})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleAssetsSummary handles GET /api/assets/summary.
func (s *Server) handleAssetsSummary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	summary, err := s.app.LedgerService.Summary(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, summary)
}

// handleSync handles POST /api/assets/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.app.LedgerService.SyncAll(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, result)
}
