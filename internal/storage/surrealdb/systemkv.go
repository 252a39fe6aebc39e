package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
)

// SystemKVStore implements interfaces.SystemKVStore using SurrealDB. It holds
// runtime-mutable settings such as provider tokens and the primary-provider
// selection.
type SystemKVStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSystemKVStore creates a new SystemKVStore.
func NewSystemKVStore(db *surrealdb.DB, logger *common.Logger) *SystemKVStore {
	return &SystemKVStore{db: db, logger: logger}
}

type sysKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *SystemKVStore) Get(ctx context.Context, key string) (string, error) {
	kv, err := surrealdb.Select[sysKV](ctx, s.db, surrealmodels.NewRecordID("system_kv", key))
	if err != nil {
		return "", fmt.Errorf("failed to select system KV: %w", err)
	}
	if kv == nil {
		return "", nil
	}
	return kv.Value, nil
}

func (s *SystemKVStore) Set(ctx context.Context, key, value string) error {
	sql := "UPSERT $rid CONTENT $kv"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("system_kv", key),
		"kv":  sysKV{Key: key, Value: value},
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set system KV: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.SystemKVStore = (*SystemKVStore)(nil)
