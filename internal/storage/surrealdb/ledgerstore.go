package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// txSelectFields lists the fields to select from holding_transaction,
// aliasing tx_id to id for struct mapping.
const txSelectFields = "tx_id AS id, symbol, asset_type, date, type, quantity, price, amount, created_at"

// versionConflictMarker is thrown inside store transactions when the
// position's version no longer matches what the caller read.
const versionConflictMarker = "version_conflict"

// LedgerStore implements interfaces.LedgerStore using SurrealDB.
//
// Position rows are keyed by symbol_assettype and carry a version field.
// Mutations run as multi-statement transactions that re-check the version
// inside the database, so two concurrent writers cannot both apply against
// the same snapshot.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *surrealdb.DB, logger *common.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

func positionRID(symbol string, assetType models.AssetType) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("position", models.PositionKey(symbol, assetType))
}

func txContent(tx *models.Transaction) map[string]any {
	return map[string]any{
		"tx_id":      tx.ID,
		"symbol":     tx.Symbol,
		"asset_type": tx.AssetType,
		"date":       tx.Date,
		"type":       tx.Type,
		"quantity":   tx.Quantity,
		"price":      tx.Price,
		"amount":     tx.Amount,
		"created_at": tx.CreatedAt,
	}
}

func (s *LedgerStore) GetPosition(ctx context.Context, symbol string, assetType models.AssetType) (*models.Position, error) {
	pos, err := surrealdb.Select[models.Position](ctx, s.db, positionRID(symbol, assetType))
	if err != nil {
		return nil, fmt.Errorf("failed to select position: %w", err)
	}
	if pos == nil || pos.Symbol == "" {
		return nil, nil
	}
	return pos, nil
}

func (s *LedgerStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	sql := "SELECT symbol, asset_type, name, quantity, cost_price, current_price, version, created_at, updated_at FROM position ORDER BY symbol ASC"

	results, err := surrealdb.Query[[]models.Position](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	var positions []*models.Position
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			positions = append(positions, &(*results)[0].Result[i])
		}
	}
	return positions, nil
}

func (s *LedgerStore) UpdatePositionPrice(ctx context.Context, symbol string, assetType models.AssetType, name string, price float64) error {
	sql := "UPDATE $rid SET name = $name, current_price = $price, updated_at = time::now()"
	vars := map[string]any{
		"rid":   positionRID(symbol, assetType),
		"name":  name,
		"price": price,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to update position price: %w", err)
	}
	return nil
}

// versionGuard builds the in-transaction version check. expectedVersion 0
// requires the position row to be absent.
func versionGuard(expectedVersion int) string {
	if expectedVersion == 0 {
		return `LET $current = (SELECT VALUE version FROM ONLY $pos_rid);
IF $current != NONE { THROW "` + versionConflictMarker + `" };`
	}
	return `LET $current = (SELECT VALUE version FROM ONLY $pos_rid);
IF $current != $expected { THROW "` + versionConflictMarker + `" };`
}

func isVersionConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), versionConflictMarker)
}

func (s *LedgerStore) ApplyTransaction(ctx context.Context, tx *models.Transaction, pos *models.Position, expectedVersion int, deletePosition bool) error {
	posMutation := "UPSERT $pos_rid CONTENT $pos;"
	if deletePosition {
		posMutation = "DELETE $pos_rid;"
	}

	sql := "BEGIN TRANSACTION;\n" +
		versionGuard(expectedVersion) + "\n" +
		"CREATE $tx_rid CONTENT $tx;\n" +
		posMutation + "\n" +
		"COMMIT TRANSACTION;"

	vars := map[string]any{
		"pos_rid": positionRID(pos.Symbol, pos.AssetType),
		"tx_rid":  surrealmodels.NewRecordID("holding_transaction", tx.ID),
		"tx":      txContent(tx),
		"pos":     pos,
	}
	if expectedVersion > 0 {
		vars["expected"] = expectedVersion
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if isVersionConflict(err) {
			return fmt.Errorf("apply transaction %s: %w", tx.ID, interfaces.ErrVersionConflict)
		}
		return fmt.Errorf("failed to apply transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) ReverseTransaction(ctx context.Context, transactionID string, pos *models.Position, expectedVersion int, deletePosition bool) error {
	posMutation := "UPSERT $pos_rid CONTENT $pos;"
	if deletePosition {
		posMutation = "DELETE $pos_rid;"
	}

	sql := "BEGIN TRANSACTION;\n" +
		versionGuard(expectedVersion) + "\n" +
		"DELETE $tx_rid;\n" +
		posMutation + "\n" +
		"COMMIT TRANSACTION;"

	vars := map[string]any{
		"pos_rid": positionRID(pos.Symbol, pos.AssetType),
		"tx_rid":  surrealmodels.NewRecordID("holding_transaction", transactionID),
		"pos":     pos,
	}
	if expectedVersion > 0 {
		vars["expected"] = expectedVersion
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if isVersionConflict(err) {
			return fmt.Errorf("reverse transaction %s: %w", transactionID, interfaces.ErrVersionConflict)
		}
		return fmt.Errorf("failed to reverse transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	sql := "SELECT " + txSelectFields + " FROM holding_transaction WHERE tx_id = $id LIMIT 1"
	vars := map[string]any{"id": id}

	results, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.Transaction, error) {
	sql := "SELECT " + txSelectFields + " FROM holding_transaction WHERE symbol = $symbol AND asset_type = $asset_type ORDER BY created_at DESC"
	vars := map[string]any{"symbol": symbol, "asset_type": assetType}

	results, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var txs []*models.Transaction
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			txs = append(txs, &(*results)[0].Result[i])
		}
	}
	return txs, nil
}

func (s *LedgerStore) ClearSymbol(ctx context.Context, symbol string, assetType models.AssetType) (int, error) {
	countSQL := "SELECT count() AS cnt FROM holding_transaction WHERE symbol = $symbol AND asset_type = $asset_type GROUP ALL"
	vars := map[string]any{"symbol": symbol, "asset_type": assetType}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, countSQL, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	removed := 0
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		removed = (*results)[0].Result[0].Cnt
	}

	sql := `BEGIN TRANSACTION;
DELETE FROM holding_transaction WHERE symbol = $symbol AND asset_type = $asset_type;
DELETE $pos_rid;
COMMIT TRANSACTION;`
	vars["pos_rid"] = positionRID(symbol, assetType)

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return 0, fmt.Errorf("failed to clear symbol: %w", err)
	}
	return removed, nil
}

// Compile-time check
var _ interfaces.LedgerStore = (*LedgerStore)(nil)
