package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// HistoryStore implements interfaces.HistoryStore using SurrealDB. Each
// holding has at most one cached series, replaced wholesale on sync.
type HistoryStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(db *surrealdb.DB, logger *common.Logger) *HistoryStore {
	return &HistoryStore{db: db, logger: logger}
}

func historyRID(symbol string, assetType models.AssetType) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("holding_history", models.PositionKey(symbol, assetType))
}

func (s *HistoryStore) Put(ctx context.Context, history *models.HoldingHistory) error {
	sql := "UPSERT $rid CONTENT $history"
	vars := map[string]any{
		"rid":     historyRID(history.Symbol, history.AssetType),
		"history": history,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to put holding history: %w", err)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, symbol string, assetType models.AssetType) (*models.HoldingHistory, error) {
	history, err := surrealdb.Select[models.HoldingHistory](ctx, s.db, historyRID(symbol, assetType))
	if err != nil {
		return nil, fmt.Errorf("failed to select holding history: %w", err)
	}
	if history == nil || history.Symbol == "" {
		return nil, nil
	}
	return history, nil
}

// Compile-time check
var _ interfaces.HistoryStore = (*HistoryStore)(nil)
