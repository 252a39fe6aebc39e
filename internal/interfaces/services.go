package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/fundterm/internal/models"
)

// MarketDataService returns normalized market data from whichever provider is
// configured as primary, falling back to the secondary on failure or empty
// result, and tracks which provider actually answered each call type.
type MarketDataService interface {
	// FundNAV returns the NAV series ascending by date, deduplicated by date.
	FundNAV(ctx context.Context, code string) ([]models.NavPoint, error)

	// LatestNav returns the most recent NAV for a fund.
	LatestNav(ctx context.Context, code string) (float64, error)

	// FundList returns up to limit fund listings.
	FundList(ctx context.Context, limit int) ([]models.FundInfo, error)

	// StockDaily returns daily bars for a stock, optionally date-bounded.
	StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error)

	// IndexDaily returns daily bars for an index.
	IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error)

	// Name is a best-effort display-name lookup. It degrades to "" and never
	// returns an error.
	Name(ctx context.Context, symbol string, assetType models.AssetType) string

	// Sector is a best-effort sector/industry lookup. "" when unavailable.
	Sector(ctx context.Context, symbol string, assetType models.AssetType) string

	// EffectiveSources reports, per call type, which provider supplied the
	// most recent successful result.
	EffectiveSources() map[string]models.Source

	// SetPrimary changes the provider preference at runtime. It affects only
	// call order, never result correctness.
	SetPrimary(source models.Source)

	// Primary returns the current provider preference.
	Primary() models.Source

	// SetTokens replaces the credential list of the named provider at runtime.
	SetTokens(source models.Source, tokens []string)
}

// LedgerService owns all Position, Transaction and Capital mutations.
type LedgerService interface {
	// RecordTransaction validates and persists one buy/sell event, updating
	// the position's quantity and weighted-average cost in the same store
	// transaction. Returns the created transaction record.
	RecordTransaction(ctx context.Context, in models.TransactionInput) (*models.Transaction, error)

	// ReverseTransaction deletes a transaction and reverses its exact effect
	// on the corresponding position.
	ReverseTransaction(ctx context.Context, transactionID string) error

	// ClearSymbol unconditionally deletes all transactions and the position
	// for a symbol. Administrative escape hatch.
	ClearSymbol(ctx context.Context, symbol string, assetType models.AssetType) (int, error)

	// GetPosition returns the current position, or nil when none is held.
	GetPosition(ctx context.Context, symbol string, assetType models.AssetType) (*models.Position, error)

	// ListPositions returns all current positions.
	ListPositions(ctx context.Context) ([]*models.Position, error)

	// ListTransactions returns the transaction log for a symbol, newest first.
	ListTransactions(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.Transaction, error)

	// GetCapital returns the cash balance, models.DefaultCapital when unset.
	GetCapital(ctx context.Context) (float64, error)

	// SetCapital overwrites the cash balance.
	SetCapital(ctx context.Context, value float64) error

	// ApplyDecision persists a decision log. When the action is buy or sell
	// and CapitalAfter is set, the log insert and the capital update commit
	// as one atomic unit.
	ApplyDecision(ctx context.Context, decision *models.DecisionLog) error

	// ListDecisions returns decision logs, newest first, optionally filtered.
	ListDecisions(ctx context.Context, fundCode string, action models.UserAction, limit, skip int) ([]*models.DecisionLog, error)

	// DeleteDecision removes one decision log.
	DeleteDecision(ctx context.Context, id string) error

	// HoldingSummary aggregates one position against its latest market price.
	HoldingSummary(ctx context.Context, symbol string, assetType models.AssetType) (*models.HoldingSummary, error)

	// Summary aggregates cash plus all holdings.
	Summary(ctx context.Context) (*models.AssetsSummary, error)

	// SyncAll refreshes every position's current price, display name and
	// cached history series from the market data provider.
	SyncAll(ctx context.Context) (*models.SyncResult, error)
}

// NewsService aggregates RSS feeds and serves recent items.
type NewsService interface {
	// FetchAndStore pulls the configured feeds, stores new items, and returns
	// the items fetched in this pass.
	FetchAndStore(ctx context.Context, fundCode string, days int) ([]*models.NewsItem, error)

	// Recent returns stored items within the window, newest first.
	Recent(ctx context.Context, fundCode string, since time.Time, limit int) ([]*models.NewsItem, error)

	// ByLinks returns stored items matching the given links, newest first.
	ByLinks(ctx context.Context, links []string, limit int) ([]*models.NewsItem, error)
}
