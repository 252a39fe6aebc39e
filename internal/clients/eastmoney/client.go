// Package eastmoney provides a client for the Eastmoney public data APIs
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

const (
	DefaultFundBaseURL     = "https://api.fund.eastmoney.com"
	DefaultQuoteBaseURL    = "https://push2his.eastmoney.com"
	DefaultSnapshotBaseURL = "https://push2.eastmoney.com"
	DefaultSearchBaseURL   = "https://fund.eastmoney.com"
	DefaultTimeout         = 30 * time.Second

	// navPageSize is large enough to fetch a fund's full NAV history in one page.
	navPageSize = 10000
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "-" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// Client implements the MarketProvider interface against Eastmoney
type Client struct {
	fundBaseURL     string
	quoteBaseURL    string
	snapshotBaseURL string
	searchBaseURL   string
	httpClient      *http.Client
	logger          *common.Logger
	limiter         *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURLs sets the fund, kline, snapshot and search base URLs.
// Empty values keep the defaults.
func WithBaseURLs(fund, quote, snapshot, search string) ClientOption {
	return func(c *Client) {
		if fund != "" {
			c.fundBaseURL = fund
		}
		if quote != "" {
			c.quoteBaseURL = quote
		}
		if snapshot != "" {
			c.snapshotBaseURL = snapshot
		}
		if search != "" {
			c.searchBaseURL = search
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallSpacing sets the minimum spacing between calls to Eastmoney.
// Calls are serialized through the limiter, never dropped.
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

// NewClient creates a new Eastmoney client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		fundBaseURL:     DefaultFundBaseURL,
		quoteBaseURL:    DefaultQuoteBaseURL,
		snapshotBaseURL: DefaultSnapshotBaseURL,
		searchBaseURL:   DefaultSearchBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Source identifies this provider.
func (c *Client) Source() models.Source {
	return models.SourceEastmoney
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eastmoney API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request and returns the raw body.
// Eastmoney's fund endpoints reject requests without a site Referer.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Referer", "https://fundf10.eastmoney.com/")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; fundterm/1.0)")

	c.logger.Debug().Str("url", rawURL).Msg("Eastmoney API request")

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
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   rawURL,
		}
	}

	return body, nil
}

// getJSON performs a GET request and decodes the JSON body into result.
func (c *Client) getJSON(ctx context.Context, rawURL string, result interface{}) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// navHistoryResponse is the f10/lsjz NAV history envelope.
type navHistoryResponse struct {
	Data struct {
		LSJZList []struct {
			Date        string      `json:"FSRQ"`
			UnitNav     flexFloat64 `json:"DWJZ"`
			DailyReturn string      `json:"JZZZL"`
		} `json:"LSJZList"`
	} `json:"Data"`
	ErrCode int    `json:"ErrCode"`
	ErrMsg  string `json:"ErrMsg"`
}

// FundNAV retrieves the NAV history for an open-ended fund.
func (c *Client) FundNAV(ctx context.Context, code string) ([]models.NavPoint, error) {
	params := url.Values{}
	params.Set("fundCode", models.NormalizeSymbol(code, models.AssetFund))
	params.Set("pageIndex", "1")
	params.Set("pageSize", strconv.Itoa(navPageSize))

	reqURL := fmt.Sprintf("%s/f10/lsjz?%s", c.fundBaseURL, params.Encode())

	var resp navHistoryResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	if resp.ErrCode != 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.ErrMsg, Endpoint: "/f10/lsjz"}
	}

	points := make([]models.NavPoint, 0, len(resp.Data.LSJZList))
	for _, row := range resp.Data.LSJZList {
		if row.Date == "" {
			continue
		}
		p := models.NavPoint{
			Date: row.Date,
			Nav:  float64(row.UnitNav),
		}
		if dr := strings.TrimSpace(row.DailyReturn); dr != "" && dr != "-" {
			if v, err := strconv.ParseFloat(dr, 64); err == nil {
				p.DailyReturn = &v
			}
		}
		points = append(points, p)
	}

	return points, nil
}

// FundList retrieves up to limit entries of the fund code listing. The
// endpoint serves a JS assignment wrapping a JSON array of string tuples
// [code, pinyin, name, type, full pinyin].
func (c *Client) FundList(ctx context.Context, limit int) ([]models.FundInfo, error) {
	body, err := c.get(ctx, c.searchBaseURL+"/js/fundcode_search.js")
	if err != nil {
		return nil, err
	}

	payload := strings.TrimSpace(string(body))
	if i := strings.Index(payload, "["); i >= 0 {
		payload = payload[i:]
	}
	payload = strings.TrimSuffix(payload, ";")

	var rows [][]string
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, fmt.Errorf("failed to decode fund listing: %w", err)
	}

	funds := make([]models.FundInfo, 0, limit)
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		funds = append(funds, models.FundInfo{
			Code: row[0],
			Name: row[2],
			Type: row[3],
		})
		if limit > 0 && len(funds) >= limit {
			break
		}
	}

	return funds, nil
}

// klineResponse is the push2his kline envelope. Each kline entry is a
// comma-separated tuple: date,open,close,high,low,volume,amount.
type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// secID maps a bare stock code to Eastmoney's market-prefixed security ID.
// Shanghai listings (6xx) are market 1, Shenzhen (0xx/3xx) market 0.
func secID(code string) string {
	if strings.HasPrefix(code, "6") {
		return "1." + code
	}
	return "0." + code
}

// indexSecID maps an index code: Shanghai composite family (000xxx) is
// market 1, Shenzhen family (399xxx) market 0.
func indexSecID(code string) string {
	if strings.HasPrefix(code, "399") {
		return "0." + code
	}
	return "1." + code
}

func (c *Client) fetchKlines(ctx context.Context, secid, start, end string) (*klineResponse, error) {
	beg := "0"
	if start != "" {
		beg = strings.ReplaceAll(start, "-", "")
	}
	stop := "20500101"
	if end != "" {
		stop = strings.ReplaceAll(end, "-", "")
	}

	params := url.Values{}
	params.Set("secid", secid)
	params.Set("klt", "101") // daily
	params.Set("fqt", "1")   // forward-adjusted
	params.Set("beg", beg)
	params.Set("end", stop)
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")

	reqURL := fmt.Sprintf("%s/api/qt/stock/kline/get?%s", c.quoteBaseURL, params.Encode())

	var resp klineResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func parseKlines(klines []string) []models.DailyBar {
	bars := make([]models.DailyBar, 0, len(klines))
	for _, line := range klines {
		fields := strings.Split(line, ",")
		if len(fields) < 6 {
			continue
		}
		bar := models.DailyBar{Date: fields[0]}
		bar.Open, _ = strconv.ParseFloat(fields[1], 64)
		bar.Close, _ = strconv.ParseFloat(fields[2], 64)
		bar.High, _ = strconv.ParseFloat(fields[3], 64)
		bar.Low, _ = strconv.ParseFloat(fields[4], 64)
		bar.Volume, _ = strconv.ParseInt(fields[5], 10, 64)
		bars = append(bars, bar)
	}
	return bars
}

// StockDaily retrieves daily bars for a stock.
func (c *Client) StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	code := models.NormalizeSymbol(symbol, models.AssetStock)
	resp, err := c.fetchKlines(ctx, secID(code), start, end)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	return parseKlines(resp.Data.Klines), nil
}

// IndexDaily retrieves daily bars for an index.
func (c *Client) IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	code := models.NormalizeSymbol(symbol, models.AssetStock)
	resp, err := c.fetchKlines(ctx, indexSecID(code), start, end)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	return parseKlines(resp.Data.Klines), nil
}

// FundName looks up the display name for a fund code from the code listing.
func (c *Client) FundName(ctx context.Context, code string) (string, error) {
	want := models.NormalizeSymbol(code, models.AssetFund)
	funds, err := c.FundList(ctx, 0)
	if err != nil {
		return "", err
	}
	for _, f := range funds {
		if f.Code == want {
			return f.Name, nil
		}
	}
	return "", nil
}

// snapshotResponse is the push2 realtime quote envelope; f58 is the display
// name, f127 the industry.
type snapshotResponse struct {
	Data *struct {
		Name     string `json:"f58"`
		Industry string `json:"f127"`
	} `json:"data"`
}

func (c *Client) snapshot(ctx context.Context, secid string) (*snapshotResponse, error) {
	params := url.Values{}
	params.Set("secid", secid)
	params.Set("fields", "f58,f127")

	reqURL := fmt.Sprintf("%s/api/qt/stock/get?%s", c.snapshotBaseURL, params.Encode())

	var resp snapshotResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StockName looks up the display name for a stock symbol.
func (c *Client) StockName(ctx context.Context, symbol string) (string, error) {
	code := models.NormalizeSymbol(symbol, models.AssetStock)
	resp, err := c.snapshot(ctx, secID(code))
	if err != nil {
		return "", err
	}
	if resp.Data == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Data.Name), nil
}

// StockSector looks up the industry of a stock.
func (c *Client) StockSector(ctx context.Context, symbol string) (string, error) {
	code := models.NormalizeSymbol(symbol, models.AssetStock)
	resp, err := c.snapshot(ctx, secID(code))
	if err != nil {
		return "", err
	}
	if resp.Data == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Data.Industry), nil
}

// sectorResponse is the f10/HYPZ industry allocation envelope.
type sectorResponse struct {
	Data struct {
		QuarterInfos []struct {
			HYPZInfo []struct {
				IndustryName string `json:"HYMC"`
			} `json:"HYPZInfo"`
		} `json:"QuarterInfos"`
	} `json:"Data"`
}

// FundSector returns the fund's top industry allocation for the current year.
func (c *Client) FundSector(ctx context.Context, code string) (string, error) {
	params := url.Values{}
	params.Set("fundCode", models.NormalizeSymbol(code, models.AssetFund))
	params.Set("year", strconv.Itoa(time.Now().Year()))

	reqURL := fmt.Sprintf("%s/f10/HYPZ/?%s", c.fundBaseURL, params.Encode())

	var resp sectorResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return "", err
	}
	for _, q := range resp.Data.QuarterInfos {
		for _, row := range q.HYPZInfo {
			if name := strings.TrimSpace(row.IndustryName); name != "" {
				return name, nil
			}
		}
	}
	return "", nil
}

// Ensure Client implements MarketProvider
var _ interfaces.MarketProvider = (*Client)(nil)
