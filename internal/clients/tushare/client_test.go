package tushare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func testClient(url string, tokens ...string) *Client {
	return NewClient(tokens, WithBaseURL(url), WithCallSpacing(time.Millisecond))
}

func writeColumnar(w http.ResponseWriter, fields []string, items ...[]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code": 0,
		"msg":  "",
		"data": map[string]any{
			"fields": fields,
			"items":  items,
		},
	})
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg})
}

func TestFundNAV_ParsesColumnarResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.APIName != "fund_nav" {
			t.Errorf("api_name = %q, want fund_nav", req.APIName)
		}
		if req.Params["ts_code"] != "000001.OF" {
			t.Errorf("ts_code = %q, want 000001.OF", req.Params["ts_code"])
		}
		writeColumnar(w, []string{"nav_date", "unit_nav"},
			[]any{"20250114", 1.25},
			[]any{"20250113", 1.20},
		)
	}))
	defer srv.Close()

	client := testClient(srv.URL, "test-token")
	points, err := client.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV returned error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Date != "2025-01-14" {
		t.Errorf("date = %q, want 2025-01-14", points[0].Date)
	}
	if points[0].Nav != 1.25 {
		t.Errorf("nav = %v, want 1.25", points[0].Nav)
	}
}

func TestStockDaily_ScalesVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.APIName != "daily" {
			t.Errorf("api_name = %q, want daily", req.APIName)
		}
		if req.Params["ts_code"] != "600000.SH" {
			t.Errorf("ts_code = %q, want 600000.SH", req.Params["ts_code"])
		}
		if req.Params["start_date"] != "20250101" {
			t.Errorf("start_date = %q, want compacted 20250101", req.Params["start_date"])
		}
		writeColumnar(w, []string{"trade_date", "open", "high", "low", "close", "vol"},
			[]any{"20250114", 14.8, 15.2, 14.7, 15.0, 1234.5},
		)
	}))
	defer srv.Close()

	client := testClient(srv.URL, "test-token")
	bars, err := client.StockDaily(context.Background(), "600000", "2025-01-01", "")
	if err != nil {
		t.Fatalf("StockDaily returned error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if bars[0].Close != 15.0 {
		t.Errorf("close = %v, want 15.0", bars[0].Close)
	}
	// vol arrives in lots of 100 shares
	if bars[0].Volume != 123450 {
		t.Errorf("volume = %d, want 123450", bars[0].Volume)
	}
}

func TestTokenRotationOnAuthError(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen = append(seen, req.Token)
		mu.Unlock()

		if req.Token != "good" {
			writeAPIError(w, 40101, "token invalid")
			return
		}
		writeColumnar(w, []string{"nav_date", "unit_nav"}, []any{"20250114", 1.25})
	}))
	defer srv.Close()

	client := testClient(srv.URL, "expired", "good")
	points, err := client.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV returned error: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point after rotation, got %d", len(points))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "expired" || seen[1] != "good" {
		t.Errorf("tokens tried = %v, want [expired good]", seen)
	}
}

func TestAllTokensExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, 40101, "token invalid")
	}))
	defer srv.Close()

	client := testClient(srv.URL, "a", "b")
	_, err := client.FundNAV(context.Background(), "000001")
	if err == nil || !strings.Contains(err.Error(), "credentials exhausted") {
		t.Errorf("err = %v, want credentials exhausted", err)
	}
}

func TestNonAuthErrorDoesNotRotate(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		writeAPIError(w, 40203, "request limit exceeded")
	}))
	defer srv.Close()

	client := testClient(srv.URL, "a", "b")
	_, err := client.FundNAV(context.Background(), "000001")
	if err == nil || !strings.Contains(err.Error(), "request limit exceeded") {
		t.Fatalf("err = %v, want the API error passed through", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("requests = %d, rate-limit errors must not burn spare tokens", requests)
	}
}

func TestNoTokensConfigured(t *testing.T) {
	client := testClient("http://localhost:1", /* no tokens */)
	_, err := client.FundNAV(context.Background(), "000001")
	if err == nil || !strings.Contains(err.Error(), "no token configured") {
		t.Errorf("err = %v, want no token configured", err)
	}
}

func TestSetTokensTakesEffect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "fresh" {
			writeAPIError(w, 40101, "token invalid")
			return
		}
		writeColumnar(w, []string{"nav_date", "unit_nav"}, []any{"20250114", 1.25})
	}))
	defer srv.Close()

	client := testClient(srv.URL, "stale")
	if _, err := client.FundNAV(context.Background(), "000001"); err == nil {
		t.Fatal("stale token should fail")
	}

	client.SetTokens([]string{"fresh"})
	if _, err := client.FundNAV(context.Background(), "000001"); err != nil {
		t.Fatalf("fresh token should succeed, got %v", err)
	}
}

func TestStockName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeColumnar(w, []string{"ts_code", "name", "industry"},
			[]any{"600000.SH", "浦发银行", "银行"},
		)
	}))
	defer srv.Close()

	client := testClient(srv.URL, "test-token")
	name, err := client.StockName(context.Background(), "600000")
	if err != nil {
		t.Fatalf("StockName returned error: %v", err)
	}
	if name != "浦发银行" {
		t.Errorf("name = %q, want 浦发银行", name)
	}
}

func TestCodeMapping(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{tsFundCode, "000001", "000001.OF"},
		{tsStockCode, "600000", "600000.SH"},
		{tsStockCode, "000725", "000725.SZ"},
		{tsIndexCode, "000300", "000300.SH"},
		{tsIndexCode, "399001", "399001.SZ"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("mapping %q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTsDate(t *testing.T) {
	if got := tsDate("20250114"); got != "2025-01-14" {
		t.Errorf("tsDate = %q, want 2025-01-14", got)
	}
	if got := tsDate("2025-01-14"); got != "2025-01-14" {
		t.Errorf("dashed dates should pass through, got %q", got)
	}
	if got := tsDate(""); got != "" {
		t.Errorf("empty date should stay empty, got %q", got)
	}
}
