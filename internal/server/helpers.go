package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bobmcallan/fundterm/internal/services/ledger"
	"github.com/bobmcallan/fundterm/internal/services/marketdata"
)

// Response is the standard envelope for REST API responses. Code is 0 on
// success and non-zero on failure.
type Response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{Code: 0, Data: data, Message: "ok"})
}

// WriteError writes an error envelope. The envelope code mirrors the HTTP
// status code.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, Response{Code: statusCode, Message: message})
}

// WriteServiceError maps domain errors onto HTTP statuses.
func WriteServiceError(w http.ResponseWriter, err error) {
	var (
		insufficient *ledger.InsufficientHoldingError
		inconsistent *ledger.InconsistentReversalError
		atomic       *ledger.AtomicUpdateError
		unavailable  *marketdata.DataUnavailableError
	)

	switch {
	case errors.As(err, &insufficient):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &inconsistent):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &atomic):
		WriteError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &unavailable):
		WriteError(w, http.StatusBadGateway, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path.
// For a pattern like /api/assets/holdings/{symbol}/history, calling
// PathParam(r, "/api/assets/holdings/", "/history") extracts the {symbol} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	// No suffix: return up to the next /
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
