// Package models defines data structures for fundterm
package models

import (
	"strings"
	"time"
)

// Source identifies an upstream market-data provider.
type Source string

const (
	SourceEastmoney Source = "eastmoney"
	SourceTushare   Source = "tushare"
)

// ValidSource returns true if s names a known provider.
func ValidSource(s Source) bool {
	return s == SourceEastmoney || s == SourceTushare
}

// Other returns the counterpart provider, used for failover ordering.
func (s Source) Other() Source {
	if s == SourceEastmoney {
		return SourceTushare
	}
	return SourceEastmoney
}

// AssetType distinguishes open-ended funds from listed stocks.
type AssetType string

const (
	AssetFund  AssetType = "fund"
	AssetStock AssetType = "stock"
)

// ValidAssetType returns true if t is a known asset type.
func ValidAssetType(t AssetType) bool {
	return t == AssetFund || t == AssetStock
}

// NormalizeAssetType lowercases t and defaults to fund when empty.
func NormalizeAssetType(t string) AssetType {
	at := AssetType(strings.ToLower(strings.TrimSpace(t)))
	if at == "" {
		return AssetFund
	}
	return at
}

// NormalizeSymbol strips whitespace, drops any exchange suffix ("600000.SH",
// "000001.OF") and zero-pads stock codes to six digits. Fund codes keep their
// digits as-is apart from the suffix removal.
func NormalizeSymbol(symbol string, assetType AssetType) string {
	s := strings.TrimSpace(symbol)
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	if assetType == AssetStock && s != "" && len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	return s
}

// NavPoint is one fund NAV observation.
type NavPoint struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	Nav         float64  `json:"nav"`
	DailyReturn *float64 `json:"daily_return,omitempty"` // percent, when the provider supplies it
}

// FundInfo is one entry of the fund listing.
type FundInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// DailyBar is one daily OHLCV observation for a stock or index.
type DailyBar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume,omitempty"`
}

// HistoryPoint is one cached (date, value) observation.
type HistoryPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// HoldingHistory caches the value series for one holding. It is replaced
// wholesale on every sync; last writer wins.
type HoldingHistory struct {
	Symbol    string         `json:"symbol"`
	AssetType AssetType      `json:"asset_type"`
	Data      []HistoryPoint `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}
