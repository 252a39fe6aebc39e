package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/fundterm/internal/app"
	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/models"
	"github.com/bobmcallan/fundterm/internal/services/ledger"
	"github.com/bobmcallan/fundterm/internal/services/marketdata"
	"github.com/bobmcallan/fundterm/internal/services/news"
	testcommon "github.com/bobmcallan/fundterm/test/common"
)

// --- Test fixture ---

type testEnv struct {
	server   *Server
	storage  *testcommon.MemoryStorage
	provider *testcommon.MockProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := common.NewSilentLogger()
	storage := testcommon.NewMemoryStorage()
	provider := testcommon.NewMockProvider(models.SourceEastmoney)
	tushareMock := testcommon.NewMockProvider(models.SourceTushare)

	market := marketdata.NewService(models.SourceEastmoney, provider, tushareMock, logger, marketdata.WithRetries(1))
	ledgerSvc := ledger.NewService(storage, market, logger)
	newsSvc := news.NewService(storage, nil, logger)

	a := &app.App{
		Config:            common.NewDefaultConfig(),
		Logger:            logger,
		Storage:           storage,
		MarketDataService: market,
		LedgerService:     ledgerSvc,
		NewsService:       newsSvc,
		StartupTime:       time.Now(),
	}

	return &testEnv{
		server:   NewServer(a),
		storage:  storage,
		provider: provider,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

// --- Tests ---

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "ok", resp.Message)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodDelete, "/api/health", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestTransactionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/assets/transactions", map[string]interface{}{
		"symbol":   "000001",
		"type":     "buy",
		"quantity": 100,
		"price":    10,
		"date":     "2025-01-14",
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Message)

	var tx models.Transaction
	require.NoError(t, json.Unmarshal(resp.Data, &tx))
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, 1000.0, tx.Amount)

	rec, resp = env.do(t, http.MethodGet, "/api/assets/transactions?symbol=000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []models.Transaction
	require.NoError(t, json.Unmarshal(resp.Data, &txs))
	assert.Len(t, txs, 1)

	// Reversal deletes the transaction and backs out the position.
	rec, _ = env.do(t, http.MethodDelete, "/api/assets/transactions/"+tx.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/assets/transactions?symbol=000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs = nil
	require.NoError(t, json.Unmarshal(resp.Data, &txs))
	assert.Empty(t, txs)
}

func TestTransactionInsufficientHolding(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/assets/transactions", map[string]interface{}{
		"symbol":   "000001",
		"type":     "sell",
		"quantity": 10,
		"price":    10,
		"date":     "2025-01-14",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Message, "insufficient")
}

func TestTransactionBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/assets/transactions", map[string]interface{}{
		"symbol":   "000001",
		"type":     "buy",
		"quantity": -5,
		"price":    10,
		"date":     "2025-01-14",
	})
	// Validation failures map to the generic error path.
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestCapitalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/assets/capital", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, models.DefaultCapital, got["capital"])

	rec, _ = env.do(t, http.MethodPut, "/api/assets/capital", map[string]float64{"capital": 5000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/assets/capital", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 5000.0, got["capital"])

	rec, _ = env.do(t, http.MethodPut, "/api/assets/capital", map[string]float64{"capital": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldingsAndSummary(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/assets/transactions", map[string]interface{}{
		"symbol":   "000001",
		"type":     "buy",
		"quantity": 100,
		"price":    10,
		"date":     "2025-01-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := env.do(t, http.MethodGet, "/api/assets/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []models.Position
	require.NoError(t, json.Unmarshal(resp.Data, &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "000001", positions[0].Symbol)

	rec, resp = env.do(t, http.MethodGet, "/api/assets/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.AssetsSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, 1000.0, summary.HoldingsValue)
	assert.Equal(t, models.DefaultCapital+1000.0, summary.TotalValue)
}

func TestHoldingHistoryNotCached(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/assets/holdings/000001/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFundNavEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.provider.NavData["000001"] = []models.NavPoint{
		{Date: "2025-01-13", Nav: 1.20},
		{Date: "2025-01-14", Nav: 1.25},
	}

	rec, resp := env.do(t, http.MethodGet, "/api/data/fund/000001/nav", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []models.NavPoint
	require.NoError(t, json.Unmarshal(resp.Data, &points))
	assert.Len(t, points, 2)

	rec, resp = env.do(t, http.MethodGet, "/api/data/fund/000001/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest map[string]float64
	require.NoError(t, json.Unmarshal(resp.Data, &latest))
	assert.Equal(t, 1.25, latest["nav"])

	rec, _ = env.do(t, http.MethodGet, "/api/data/fund/000001/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStockDailyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.provider.Bars["600000"] = []models.DailyBar{{Date: "2025-01-14", Close: 15}}

	rec, resp := env.do(t, http.MethodGet, "/api/data/stock/600000/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bars []models.DailyBar
	require.NoError(t, json.Unmarshal(resp.Data, &bars))
	require.Len(t, bars, 1)
	assert.Equal(t, 15.0, bars[0].Close)
}

func TestFundListLimitValidation(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/data/funds?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSourcesAndPrimary(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/data/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sources map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &sources))
	assert.Equal(t, "eastmoney", sources["primary"])

	rec, _ = env.do(t, http.MethodPut, "/api/config/primary", map[string]string{"primary": "tushare"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/data/sources", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &sources))
	assert.Equal(t, "tushare", sources["primary"])

	rec, _ = env.do(t, http.MethodPut, "/api/config/primary", map[string]string{"primary": "bloomberg"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigTokens(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPut, "/api/config/tokens", map[string][]string{
		"tokens": {"secret-token-abcd", " ", ""},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The swap reaches the tushare provider through the market service.
	rec, resp := env.do(t, http.MethodGet, "/api/config/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string][]string
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	require.Len(t, got["tushare_tokens"], 1)
	assert.Equal(t, "*************abcd", got["tushare_tokens"][0])

	rec, _ = env.do(t, http.MethodPut, "/api/config/tokens", map[string][]string{"tokens": {}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/decisions", map[string]interface{}{
		"fund_code":   "000001",
		"user_action": "hold",
		"notes":       "wait for earnings",
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Message)
	var decision models.DecisionLog
	require.NoError(t, json.Unmarshal(resp.Data, &decision))
	assert.NotEmpty(t, decision.ID)

	rec, resp = env.do(t, http.MethodGet, "/api/decisions?fund_code=000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var decisions []models.DecisionLog
	require.NoError(t, json.Unmarshal(resp.Data, &decisions))
	assert.Len(t, decisions, 1)

	rec, _ = env.do(t, http.MethodDelete, "/api/decisions/"+decision.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/decisions", nil)
	decisions = nil
	require.NoError(t, json.Unmarshal(resp.Data, &decisions))
	assert.Empty(t, decisions)
}

func TestDecisionValidation(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/api/decisions", map[string]interface{}{
		"fund_code":   "000001",
		"user_action": "panic",
	})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestRolePromptVersioning(t *testing.T) {
	env := newTestEnv(t)

	// Nothing stored yet.
	rec, _ := env.do(t, http.MethodGet, "/api/prompts/role", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/prompts/role", map[string]string{"content": "You are a cautious analyst."})
	require.Equal(t, http.StatusOK, rec.Code)
	var rp models.RolePrompt
	require.NoError(t, json.Unmarshal(resp.Data, &rp))
	assert.Equal(t, 1, rp.Version)

	rec, resp = env.do(t, http.MethodPost, "/api/prompts/role", map[string]string{"content": "You are an aggressive analyst."})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &rp))
	assert.Equal(t, 2, rp.Version)

	// Latest wins without a version filter.
	rec, resp = env.do(t, http.MethodGet, "/api/prompts/role", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &rp))
	assert.Equal(t, 2, rp.Version)
	assert.Contains(t, rp.Content, "aggressive")

	rec, resp = env.do(t, http.MethodGet, "/api/prompts/role?version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &rp))
	assert.Contains(t, rp.Content, "cautious")

	rec, resp = env.do(t, http.MethodGet, "/api/prompts/role/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []models.RolePrompt
	require.NoError(t, json.Unmarshal(resp.Data, &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)

	rec, _ = env.do(t, http.MethodPost, "/api/prompts/role", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdviceWithoutClient(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/api/advice", map[string]string{"fund_code": "000001"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdvicePromptComposition(t *testing.T) {
	env := newTestEnv(t)

	item := &models.NewsItem{
		Title:    "基金利好消息",
		Link:     "https://example.com/a",
		Source:   "sina",
		FundCode: "000001",
		PubDate:  time.Now(),
	}
	require.NoError(t, env.storage.NewsStore().Upsert(context.Background(), item))

	rec, resp := env.do(t, http.MethodGet, "/api/advice/prompt?code=000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Contains(t, got["prompt"], "基金利好消息")
	assert.Contains(t, got["prompt"], "000001")

	rec, _ = env.do(t, http.MethodGet, "/api/advice/prompt", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	item := &models.NewsItem{
		Title:    "市场周报",
		Link:     "https://example.com/weekly",
		Source:   "rss",
		FundCode: "000001",
		PubDate:  time.Now(),
	}
	require.NoError(t, env.storage.NewsStore().Upsert(context.Background(), item))

	rec, resp := env.do(t, http.MethodGet, "/api/news?code=000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.NewsItem
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	assert.Len(t, items, 1)
}
