package models

import "time"

// DefaultCapital is the cash balance assumed before any explicit set.
const DefaultCapital = 2000.0

// TransactionType categorizes a ledger transaction.
type TransactionType string

const (
	TxBuy  TransactionType = "buy"
	TxSell TransactionType = "sell"
)

// ValidTransactionType returns true if t is buy or sell.
func ValidTransactionType(t TransactionType) bool {
	return t == TxBuy || t == TxSell
}

// Position is the current holding for one symbol+asset_type pair.
// Quantity is always > 0: a position that would reach zero is deleted,
// never stored as a zero row.
type Position struct {
	Symbol       string    `json:"symbol"`
	AssetType    AssetType `json:"asset_type"`
	Name         string    `json:"name,omitempty"`
	Quantity     float64   `json:"quantity"`
	CostPrice    float64   `json:"cost_price"`
	CurrentPrice *float64  `json:"current_price,omitempty"` // nil until first sync
	Version      int       `json:"version"`                 // optimistic concurrency token, starts at 1
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PositionKey builds the store record key for a symbol+asset_type pair.
func PositionKey(symbol string, assetType AssetType) string {
	return symbol + "_" + string(assetType)
}

// Transaction is one append-only buy/sell event.
type Transaction struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	AssetType AssetType       `json:"asset_type"`
	Date      string          `json:"date"` // caller-supplied trade date
	Type      TransactionType `json:"type"`
	Quantity  float64         `json:"quantity"`
	Price     float64         `json:"price"`
	Amount    float64         `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransactionInput carries the pre-validated arguments of a record-transaction
// call. Amount is optional and defaults to Quantity*Price.
type TransactionInput struct {
	Symbol    string
	AssetType AssetType
	Type      TransactionType
	Quantity  float64
	Price     float64
	Amount    *float64
	Date      string
}

// Account is the singleton cash-balance document.
type Account struct {
	Capital   float64   `json:"capital"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HoldingSummary aggregates one position against its latest market price.
type HoldingSummary struct {
	Symbol       string    `json:"symbol"`
	AssetType    AssetType `json:"asset_type"`
	Name         string    `json:"name"`
	Quantity     float64   `json:"quantity"`
	CostPrice    float64   `json:"cost_price"`
	CurrentPrice float64   `json:"current_price"`
	Invested     float64   `json:"invested"`
	MarketValue  float64   `json:"market_value"`
	Profit       float64   `json:"profit"`
	ProfitRate   float64   `json:"profit_rate"` // percent of invested
}

// AssetsSummary aggregates cash plus all holdings.
type AssetsSummary struct {
	Capital       float64     `json:"capital"`
	Holdings      []*Position `json:"holdings"`
	HoldingsValue float64     `json:"holdings_value"`
	TotalValue    float64     `json:"total_value"`
}

// SyncResult reports the outcome of a full holdings sync.
type SyncResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}
