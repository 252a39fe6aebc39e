// Package tushare provides a client for the Tushare Pro HTTP API
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

const (
	DefaultBaseURL = "https://api.tushare.pro"
	DefaultTimeout = 30 * time.Second

	// authErrorCode is Tushare's "token invalid or expired" response code.
	authErrorCode = 40101
)

// Client implements the MarketProvider interface against Tushare Pro.
// Multiple tokens may be configured in priority order; on a credential
// failure the next token is tried before the call counts as failed. The
// token list can be swapped at runtime via SetTokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	mu     sync.RWMutex
	tokens []string
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallSpacing sets the minimum spacing between calls to Tushare.
func WithCallSpacing(spacing time.Duration) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Tushare client with tokens in priority order.
func NewClient(tokens []string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:  common.NewSilentLogger(),
		tokens:  append([]string(nil), tokens...),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Source identifies this provider.
func (c *Client) Source() models.Source {
	return models.SourceTushare
}

// SetTokens replaces the credential list at runtime. Subsequent calls use
// the new set immediately.
func (c *Client) SetTokens(tokens []string) {
	c.mu.Lock()
	c.tokens = append([]string(nil), tokens...)
	c.mu.Unlock()
	c.logger.Info().Int("tokens", len(tokens)).Msg("Tushare credentials replaced")
}

func (c *Client) currentTokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.tokens...)
}

// APIError represents a Tushare API-level error (code != 0).
type APIError struct {
	Code    int
	Message string
	APIName string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare API error: %s (code: %d, api: %s)", e.Message, e.Code, e.APIName)
}

// IsAuthError reports whether the error indicates an invalid credential
// rather than a failing endpoint.
func (e *APIError) IsAuthError() bool {
	return e.Code == authErrorCode || strings.Contains(strings.ToLower(e.Message), "token")
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string          `json:"fields"`
		Items  [][]json.RawMessage `json:"items"`
	} `json:"data"`
}

// rows converts the columnar response into field-name-keyed records.
func (r *apiResponse) rows() []map[string]string {
	if r.Data == nil {
		return nil
	}
	out := make([]map[string]string, 0, len(r.Data.Items))
	for _, item := range r.Data.Items {
		row := make(map[string]string, len(r.Data.Fields))
		for i, field := range r.Data.Fields {
			if i >= len(item) {
				break
			}
			var s string
			if err := json.Unmarshal(item[i], &s); err != nil {
				// numeric or null cell, keep the raw text
				s = strings.Trim(string(item[i]), `"`)
				if s == "null" {
					s = ""
				}
			}
			row[field] = s
		}
		out = append(out, row)
	}
	return out
}

// call performs one rate-limited Tushare query, rotating through the
// configured tokens on credential-specific failures.
func (c *Client) call(ctx context.Context, apiName string, params map[string]string, fields string) (*apiResponse, error) {
	tokens := c.currentTokens()
	if len(tokens) == 0 {
		return nil, &APIError{Code: authErrorCode, Message: "no token configured", APIName: apiName}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var lastErr error
	for i, token := range tokens {
		resp, err := c.post(ctx, apiRequest{
			APIName: apiName,
			Token:   token,
			Params:  params,
			Fields:  fields,
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsAuthError() {
			return nil, err
		}
		c.logger.Warn().Int("token_index", i).Str("api", apiName).Msg("Tushare credential rejected, trying next")
	}

	return nil, fmt.Errorf("all tushare credentials exhausted: %w", lastErr)
}

func (c *Client) post(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("api", reqBody.APIName).Msg("Tushare API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tushare HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, &APIError{Code: parsed.Code, Message: parsed.Msg, APIName: reqBody.APIName}
	}

	return &parsed, nil
}

// tsFundCode maps a bare fund code to Tushare's ts_code form.
func tsFundCode(code string) string {
	return models.NormalizeSymbol(code, models.AssetFund) + ".OF"
}

// tsStockCode maps a bare stock code to Tushare's exchange-suffixed form.
func tsStockCode(code string) string {
	c := models.NormalizeSymbol(code, models.AssetStock)
	if strings.HasPrefix(c, "6") {
		return c + ".SH"
	}
	return c + ".SZ"
}

// tsIndexCode maps a bare index code to Tushare's exchange-suffixed form.
func tsIndexCode(code string) string {
	c := models.NormalizeSymbol(code, models.AssetStock)
	if strings.HasPrefix(c, "399") {
		return c + ".SZ"
	}
	return c + ".SH"
}

// tsDate converts YYYYMMDD to YYYY-MM-DD. Already-dashed dates pass through.
func tsDate(s string) string {
	if len(s) == 8 && !strings.Contains(s, "-") {
		return s[:4] + "-" + s[4:6] + "-" + s[6:]
	}
	return s
}

// compactDate converts YYYY-MM-DD to YYYYMMDD for request parameters.
func compactDate(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

func parseCell(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// FundNAV retrieves the NAV series for a fund via the fund_nav endpoint.
func (c *Client) FundNAV(ctx context.Context, code string) ([]models.NavPoint, error) {
	resp, err := c.call(ctx, "fund_nav", map[string]string{"ts_code": tsFundCode(code)}, "nav_date,unit_nav")
	if err != nil {
		return nil, err
	}

	rows := resp.rows()
	points := make([]models.NavPoint, 0, len(rows))
	for _, row := range rows {
		date := tsDate(row["nav_date"])
		if date == "" {
			continue
		}
		points = append(points, models.NavPoint{
			Date: date,
			Nav:  parseCell(row["unit_nav"]),
		})
	}
	return points, nil
}

// FundList retrieves up to limit exchange-traded fund listings.
func (c *Client) FundList(ctx context.Context, limit int) ([]models.FundInfo, error) {
	resp, err := c.call(ctx, "fund_basic", map[string]string{"market": "E"}, "ts_code,name,fund_type")
	if err != nil {
		return nil, err
	}

	rows := resp.rows()
	funds := make([]models.FundInfo, 0, len(rows))
	for _, row := range rows {
		funds = append(funds, models.FundInfo{
			Code: models.NormalizeSymbol(row["ts_code"], models.AssetFund),
			Name: row["name"],
			Type: row["fund_type"],
		})
		if limit > 0 && len(funds) >= limit {
			break
		}
	}
	return funds, nil
}

func (c *Client) daily(ctx context.Context, apiName, tsCode, start, end string) ([]models.DailyBar, error) {
	params := map[string]string{"ts_code": tsCode}
	if start != "" {
		params["start_date"] = compactDate(start)
	}
	if end != "" {
		params["end_date"] = compactDate(end)
	}

	resp, err := c.call(ctx, apiName, params, "trade_date,open,high,low,close,vol")
	if err != nil {
		return nil, err
	}

	rows := resp.rows()
	bars := make([]models.DailyBar, 0, len(rows))
	for _, row := range rows {
		date := tsDate(row["trade_date"])
		if date == "" {
			continue
		}
		bar := models.DailyBar{
			Date:  date,
			Open:  parseCell(row["open"]),
			High:  parseCell(row["high"]),
			Low:   parseCell(row["low"]),
			Close: parseCell(row["close"]),
		}
		// vol comes in lots of 100 shares
		bar.Volume = int64(parseCell(row["vol"]) * 100)
		bars = append(bars, bar)
	}
	return bars, nil
}

// StockDaily retrieves daily bars for a stock via the daily endpoint.
func (c *Client) StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	return c.daily(ctx, "daily", tsStockCode(symbol), start, end)
}

// IndexDaily retrieves daily bars for an index via the index_daily endpoint.
func (c *Client) IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	return c.daily(ctx, "index_daily", tsIndexCode(symbol), start, end)
}

// FundName looks up the display name for a fund code.
func (c *Client) FundName(ctx context.Context, code string) (string, error) {
	resp, err := c.call(ctx, "fund_basic", map[string]string{"ts_code": tsFundCode(code)}, "ts_code,name")
	if err != nil {
		return "", err
	}
	for _, row := range resp.rows() {
		if name := strings.TrimSpace(row["name"]); name != "" {
			return name, nil
		}
	}
	return "", nil
}

// StockName looks up the display name for a stock symbol.
func (c *Client) StockName(ctx context.Context, symbol string) (string, error) {
	resp, err := c.call(ctx, "stock_basic", map[string]string{"ts_code": tsStockCode(symbol)}, "ts_code,name,industry")
	if err != nil {
		return "", err
	}
	for _, row := range resp.rows() {
		if name := strings.TrimSpace(row["name"]); name != "" {
			return name, nil
		}
	}
	return "", nil
}

// FundSector is unavailable on Tushare's free tier.
func (c *Client) FundSector(ctx context.Context, code string) (string, error) {
	return "", nil
}

// StockSector looks up the industry of a stock.
func (c *Client) StockSector(ctx context.Context, symbol string) (string, error) {
	resp, err := c.call(ctx, "stock_basic", map[string]string{"ts_code": tsStockCode(symbol)}, "ts_code,industry")
	if err != nil {
		return "", err
	}
	for _, row := range resp.rows() {
		if industry := strings.TrimSpace(row["industry"]); industry != "" {
			return industry, nil
		}
	}
	return "", nil
}

// Ensure Client implements MarketProvider and TokenCarrier
var (
	_ interfaces.MarketProvider = (*Client)(nil)
	_ interfaces.TokenCarrier   = (*Client)(nil)
)
