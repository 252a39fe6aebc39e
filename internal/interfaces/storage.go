package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/fundterm/internal/models"
)

// ErrVersionConflict is returned by LedgerStore mutations when the position's
// stored version no longer matches expectedVersion. Callers re-read and retry.
var ErrVersionConflict = errors.New("position version conflict")

// StorageManager provides access to all document stores.
type StorageManager interface {
	LedgerStore() LedgerStore
	AccountStore() AccountStore
	NewsStore() NewsStore
	HistoryStore() HistoryStore
	PromptStore() PromptStore
	SystemKV() SystemKVStore
	Close() error
}

// LedgerStore persists positions and the transaction log.
//
// ApplyTransaction and ReverseTransaction run a single store transaction that
// writes (or deletes) the transaction row and conditionally mutates the
// position keyed on expectedVersion; a concurrent writer surfaces as
// ErrVersionConflict and the caller retries the whole operation.
// expectedVersion 0 means "expect no position to exist".
type LedgerStore interface {
	// GetPosition returns the position, or nil (with nil error) when absent.
	GetPosition(ctx context.Context, symbol string, assetType models.AssetType) (*models.Position, error)

	// ListPositions returns all positions.
	ListPositions(ctx context.Context) ([]*models.Position, error)

	// UpdatePositionPrice refreshes display name and current price during
	// sync. Last writer wins; prices carry no version discipline.
	UpdatePositionPrice(ctx context.Context, symbol string, assetType models.AssetType, name string, price float64) error

	// ApplyTransaction atomically inserts tx and upserts pos (or deletes the
	// position when deletePosition is true).
	ApplyTransaction(ctx context.Context, tx *models.Transaction, pos *models.Position, expectedVersion int, deletePosition bool) error

	// ReverseTransaction atomically deletes the transaction row and upserts
	// pos (or deletes the position when deletePosition is true).
	ReverseTransaction(ctx context.Context, transactionID string, pos *models.Position, expectedVersion int, deletePosition bool) error

	// GetTransaction returns one transaction, or nil when absent.
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// ListTransactions returns the transaction log for a symbol, newest first.
	ListTransactions(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.Transaction, error)

	// ClearSymbol deletes all transactions and the position for a symbol.
	// Returns the number of transactions removed.
	ClearSymbol(ctx context.Context, symbol string, assetType models.AssetType) (int, error)
}

// AccountStore persists the cash balance and decision logs.
type AccountStore interface {
	// GetCapital returns the balance, models.DefaultCapital when unset.
	GetCapital(ctx context.Context) (float64, error)

	// SetCapital overwrites the balance.
	SetCapital(ctx context.Context, value float64) error

	// SaveDecision inserts a decision log with no capital change.
	SaveDecision(ctx context.Context, decision *models.DecisionLog) error

	// SaveDecisionWithCapital inserts the decision log and sets the capital
	// in one store transaction: both persist or neither does.
	SaveDecisionWithCapital(ctx context.Context, decision *models.DecisionLog, capitalAfter float64) error

	// ListDecisions returns logs newest first, optionally filtered by fund
	// code and/or action.
	ListDecisions(ctx context.Context, fundCode string, action models.UserAction, limit, skip int) ([]*models.DecisionLog, error)

	// DeleteDecision removes one decision log.
	DeleteDecision(ctx context.Context, id string) error
}

// NewsStore persists aggregated news items keyed by link.
type NewsStore interface {
	Upsert(ctx context.Context, item *models.NewsItem) error
	Recent(ctx context.Context, fundCode string, since time.Time, limit int) ([]*models.NewsItem, error)
	ByLinks(ctx context.Context, links []string, limit int) ([]*models.NewsItem, error)
}

// HistoryStore caches per-holding value series, replaced wholesale on sync.
type HistoryStore interface {
	Put(ctx context.Context, history *models.HoldingHistory) error

	// Get returns the cached series, or nil when none is stored.
	Get(ctx context.Context, symbol string, assetType models.AssetType) (*models.HoldingHistory, error)
}

// PromptStore persists versioned role prompts.
type PromptStore interface {
	// SaveRolePrompt stores content as a new version (previous latest + 1).
	SaveRolePrompt(ctx context.Context, content string) (*models.RolePrompt, error)

	// GetRolePrompt returns the given version, or the latest when version <= 0.
	// Nil when nothing is stored.
	GetRolePrompt(ctx context.Context, version int) (*models.RolePrompt, error)

	// ListRolePrompts returns version metadata newest first, content omitted.
	ListRolePrompts(ctx context.Context, limit int) ([]*models.RolePrompt, error)
}

// SystemKVStore holds runtime-mutable settings (provider tokens, primary
// provider selection).
type SystemKVStore interface {
	Get(ctx context.Context, key string) (string, error) // "" when unset
	Set(ctx context.Context, key, value string) error
}
