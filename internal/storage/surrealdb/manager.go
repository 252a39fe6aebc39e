// Package surrealdb implements the storage contracts over SurrealDB
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	ledgerStore  *LedgerStore
	accountStore *AccountStore
	newsStore    *NewsStore
	historyStore *HistoryStore
	promptStore  *PromptStore
	systemKV     *SystemKVStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables to ensure they exist (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"position", "holding_transaction", "account", "decision_log", "news_item", "holding_history", "role_prompt", "system_kv"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	m.ledgerStore = NewLedgerStore(db, logger)
	m.accountStore = NewAccountStore(db, logger)
	m.newsStore = NewNewsStore(db, logger)
	m.historyStore = NewHistoryStore(db, logger)
	m.promptStore = NewPromptStore(db, logger)
	m.systemKV = NewSystemKVStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledgerStore
}

func (m *Manager) AccountStore() interfaces.AccountStore {
	return m.accountStore
}

func (m *Manager) NewsStore() interfaces.NewsStore {
	return m.newsStore
}

func (m *Manager) HistoryStore() interfaces.HistoryStore {
	return m.historyStore
}

func (m *Manager) PromptStore() interfaces.PromptStore {
	return m.promptStore
}

func (m *Manager) SystemKV() interfaces.SystemKVStore {
	return m.systemKV
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
