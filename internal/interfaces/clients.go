// Package interfaces defines service contracts for fundterm
package interfaces

import (
	"context"

	"github.com/bobmcallan/fundterm/internal/models"
)

// MarketProvider is one upstream market-data integration (Eastmoney or
// Tushare). Implementations normalize provider responses into the shared
// record shapes; they do not retry or fall back, that policy lives in the
// market-data service.
type MarketProvider interface {
	// Source identifies the provider.
	Source() models.Source

	// FundNAV retrieves the full NAV series for an open-ended fund.
	FundNAV(ctx context.Context, code string) ([]models.NavPoint, error)

	// FundList retrieves up to limit fund listings.
	FundList(ctx context.Context, limit int) ([]models.FundInfo, error)

	// StockDaily retrieves daily bars for a stock, optionally bounded by
	// start/end dates (YYYY-MM-DD, inclusive, empty = unbounded).
	StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error)

	// IndexDaily retrieves daily bars for an index, same shape as StockDaily.
	IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error)

	// FundName looks up the display name for a fund code. Empty when unknown.
	FundName(ctx context.Context, code string) (string, error)

	// StockName looks up the display name for a stock symbol. Empty when unknown.
	StockName(ctx context.Context, symbol string) (string, error)

	// FundSector looks up the dominant industry allocation of a fund. Empty when unknown.
	FundSector(ctx context.Context, code string) (string, error)

	// StockSector looks up the industry of a stock. Empty when unknown.
	StockSector(ctx context.Context, symbol string) (string, error)
}

// TokenCarrier is implemented by providers whose credentials can be replaced
// at runtime without a restart.
type TokenCarrier interface {
	// SetTokens replaces the ordered credential list. Subsequent calls use
	// the new set immediately.
	SetTokens(tokens []string)
}

// AdviceClient generates decision advice from a composed prompt. rolePrompt
// may be empty, in which case the model runs without a system instruction.
type AdviceClient interface {
	GenerateAdvice(ctx context.Context, rolePrompt, prompt string) (string, error)
}
