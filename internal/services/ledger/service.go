// Package ledger owns position, transaction, capital and decision mutations
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

const (
	// maxWriteAttempts bounds the optimistic-concurrency retry loop.
	maxWriteAttempts = 3

	// qtyEpsilon absorbs float drift when comparing quantities.
	qtyEpsilon = 1e-9
)

// Service implements LedgerService. All position mutations go through
// version-checked store transactions; on a version conflict the whole
// read-compute-write cycle is retried.
type Service struct {
	storage interfaces.StorageManager
	market  interfaces.MarketDataService
	logger  *common.Logger
	workers int
	now     func() time.Time // injectable clock for testing
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithSyncWorkers sets the fan-out width of SyncAll.
func WithSyncWorkers(workers int) ServiceOption {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a ledger service. market may be nil, in which case
// price-dependent operations (summaries, SyncAll) are unavailable.
func NewService(storage interfaces.StorageManager, market interfaces.MarketDataService, logger *common.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		storage: storage,
		market:  market,
		logger:  logger,
		workers: 4,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func validateInput(in *models.TransactionInput) error {
	in.Symbol = models.NormalizeSymbol(in.Symbol, in.AssetType)
	if in.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !models.ValidAssetType(in.AssetType) {
		return fmt.Errorf("invalid asset type: %s", in.AssetType)
	}
	if !models.ValidTransactionType(in.Type) {
		return fmt.Errorf("invalid transaction type: %s", in.Type)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if in.Price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if len(in.Date) < 8 {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	return nil
}

// RecordTransaction validates and persists one buy/sell event, updating the
// position in the same store transaction. Concurrent writers are resolved by
// retrying the whole read-compute-write cycle on version conflicts.
func (s *Service) RecordTransaction(ctx context.Context, in models.TransactionInput) (*models.Transaction, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	amount := in.Quantity * in.Price
	if in.Amount != nil {
		amount = *in.Amount
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		pos, err := s.storage.LedgerStore().GetPosition(ctx, in.Symbol, in.AssetType)
		if err != nil {
			return nil, fmt.Errorf("failed to load position: %w", err)
		}

		newPos, expectedVersion, deletePos, err := s.applyTrade(pos, &in)
		if err != nil {
			return nil, err
		}

		tx := &models.Transaction{
			ID:        uuid.NewString(),
			Symbol:    in.Symbol,
			AssetType: in.AssetType,
			Date:      in.Date,
			Type:      in.Type,
			Quantity:  in.Quantity,
			Price:     in.Price,
			Amount:    amount,
			CreatedAt: s.now(),
		}

		err = s.storage.LedgerStore().ApplyTransaction(ctx, tx, newPos, expectedVersion, deletePos)
		if err == nil {
			s.logger.Info().
				Str("symbol", in.Symbol).
				Str("type", string(in.Type)).
				Float64("quantity", in.Quantity).
				Float64("price", in.Price).
				Msg("Transaction recorded")
			return tx, nil
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn().Str("symbol", in.Symbol).Int("attempt", attempt+1).Msg("Position version conflict, retrying")
	}

	return nil, fmt.Errorf("transaction not recorded after %d attempts: %w", maxWriteAttempts, lastErr)
}

// applyTrade computes the post-trade position. It returns the new position
// (symbol-keyed even when deletePos is true), the version the store must
// observe, and whether the position row should be deleted.
func (s *Service) applyTrade(pos *models.Position, in *models.TransactionInput) (*models.Position, int, bool, error) {
	now := s.now()

	switch in.Type {
	case models.TxBuy:
		if pos == nil {
			return &models.Position{
				Symbol:    in.Symbol,
				AssetType: in.AssetType,
				Quantity:  in.Quantity,
				CostPrice: in.Price,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}, 0, false, nil
		}

		newQty := pos.Quantity + in.Quantity
		newCost := (pos.Quantity*pos.CostPrice + in.Quantity*in.Price) / newQty
		next := *pos
		next.Quantity = newQty
		next.CostPrice = newCost
		next.Version = pos.Version + 1
		next.UpdatedAt = now
		return &next, pos.Version, false, nil

	case models.TxSell:
		available := 0.0
		if pos != nil {
			available = pos.Quantity
		}
		if pos == nil || available+qtyEpsilon < in.Quantity {
			return nil, 0, false, &InsufficientHoldingError{
				Symbol:    in.Symbol,
				AssetType: in.AssetType,
				Requested: in.Quantity,
				Available: available,
			}
		}

		newQty := pos.Quantity - in.Quantity
		next := *pos
		next.Quantity = newQty
		next.Version = pos.Version + 1
		next.UpdatedAt = now
		if newQty <= qtyEpsilon {
			return &next, pos.Version, true, nil
		}
		// sells keep the weighted-average cost basis
		return &next, pos.Version, false, nil
	}

	return nil, 0, false, fmt.Errorf("invalid transaction type: %s", in.Type)
}

// ReverseTransaction deletes a transaction and backs its exact effect out of
// the position.
func (s *Service) ReverseTransaction(ctx context.Context, transactionID string) error {
	tx, err := s.storage.LedgerStore().GetTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("transaction not found: %s", transactionID)
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		pos, err := s.storage.LedgerStore().GetPosition(ctx, tx.Symbol, tx.AssetType)
		if err != nil {
			return fmt.Errorf("failed to load position: %w", err)
		}

		newPos, expectedVersion, deletePos, err := s.reverseTrade(pos, tx)
		if err != nil {
			return err
		}

		err = s.storage.LedgerStore().ReverseTransaction(ctx, tx.ID, newPos, expectedVersion, deletePos)
		if err == nil {
			s.logger.Info().Str("transaction", tx.ID).Str("symbol", tx.Symbol).Msg("Transaction reversed")
			return nil
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("transaction not reversed after %d attempts: %w", maxWriteAttempts, lastErr)
}

// reverseTrade computes the position state with tx's effect removed.
func (s *Service) reverseTrade(pos *models.Position, tx *models.Transaction) (*models.Position, int, bool, error) {
	now := s.now()

	switch tx.Type {
	case models.TxBuy:
		if pos == nil {
			return nil, 0, false, &InconsistentReversalError{
				TransactionID: tx.ID,
				Reason:        "no position exists to back the buy out of",
			}
		}
		newQty := pos.Quantity - tx.Quantity
		if newQty < -qtyEpsilon {
			return nil, 0, false, &InconsistentReversalError{
				TransactionID: tx.ID,
				Reason:        fmt.Sprintf("reversal would leave quantity %.4f", newQty),
			}
		}

		next := *pos
		next.Version = pos.Version + 1
		next.UpdatedAt = now
		if newQty <= qtyEpsilon {
			next.Quantity = 0
			return &next, pos.Version, true, nil
		}

		newCostBasis := pos.Quantity*pos.CostPrice - tx.Quantity*tx.Price
		if newCostBasis < -qtyEpsilon {
			return nil, 0, false, &InconsistentReversalError{
				TransactionID: tx.ID,
				Reason:        "reversal would leave a negative cost basis",
			}
		}
		next.Quantity = newQty
		next.CostPrice = newCostBasis / newQty
		return &next, pos.Version, false, nil

	case models.TxSell:
		if pos == nil {
			// the sell closed the position; recreate it at the sell price
			return &models.Position{
				Symbol:    tx.Symbol,
				AssetType: tx.AssetType,
				Quantity:  tx.Quantity,
				CostPrice: tx.Price,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}, 0, false, nil
		}

		next := *pos
		next.Quantity = pos.Quantity + tx.Quantity
		next.Version = pos.Version + 1
		next.UpdatedAt = now
		return &next, pos.Version, false, nil
	}

	return nil, 0, false, fmt.Errorf("invalid transaction type: %s", tx.Type)
}

// ClearSymbol unconditionally deletes all transactions and the position for a
// symbol. Returns the number of transactions removed.
func (s *Service) ClearSymbol(ctx context.Context, symbol string, assetType models.AssetType) (int, error) {
	symbol = models.NormalizeSymbol(symbol, assetType)
	removed, err := s.storage.LedgerStore().ClearSymbol(ctx, symbol, assetType)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("symbol", symbol).Int("transactions", removed).Msg("Symbol cleared")
	return removed, nil
}

// GetPosition returns the current position, or nil when none is held.
func (s *Service) GetPosition(ctx context.Context, symbol string, assetType models.AssetType) (*models.Position, error) {
	return s.storage.LedgerStore().GetPosition(ctx, models.NormalizeSymbol(symbol, assetType), assetType)
}

// ListPositions returns all current positions.
func (s *Service) ListPositions(ctx context.Context) ([]*models.Position, error) {
	return s.storage.LedgerStore().ListPositions(ctx)
}

// ListTransactions returns the transaction log for a symbol, newest first.
func (s *Service) ListTransactions(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.Transaction, error) {
	return s.storage.LedgerStore().ListTransactions(ctx, models.NormalizeSymbol(symbol, assetType), assetType)
}

// GetCapital returns the cash balance.
func (s *Service) GetCapital(ctx context.Context) (float64, error) {
	return s.storage.AccountStore().GetCapital(ctx)
}

// SetCapital overwrites the cash balance.
func (s *Service) SetCapital(ctx context.Context, value float64) error {
	if value < 0 {
		return fmt.Errorf("capital cannot be negative")
	}
	return s.storage.AccountStore().SetCapital(ctx, value)
}

// ApplyDecision persists a decision log. Trade actions with a capital outcome
// commit the log and the balance in one store transaction.
func (s *Service) ApplyDecision(ctx context.Context, decision *models.DecisionLog) error {
	if decision.FundCode == "" {
		return fmt.Errorf("fund code is required")
	}
	if !models.ValidUserAction(decision.UserAction) {
		return fmt.Errorf("invalid action: %s", decision.UserAction)
	}

	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	now := s.now()
	if decision.Timestamp.IsZero() {
		decision.Timestamp = now
	}
	decision.CreatedAt = now

	isTrade := decision.UserAction == models.ActionBuy || decision.UserAction == models.ActionSell
	if isTrade && decision.CapitalAfter != nil {
		if decision.CapitalBefore == nil {
			before, err := s.GetCapital(ctx)
			if err != nil {
				return fmt.Errorf("failed to read capital: %w", err)
			}
			decision.CapitalBefore = &before
		}
		if err := s.storage.AccountStore().SaveDecisionWithCapital(ctx, decision, *decision.CapitalAfter); err != nil {
			return &AtomicUpdateError{Op: "apply decision", Err: err}
		}
		s.logger.Info().
			Str("fund", decision.FundCode).
			Str("action", string(decision.UserAction)).
			Float64("capital_after", *decision.CapitalAfter).
			Msg("Decision applied with capital update")
		return nil
	}

	if err := s.storage.AccountStore().SaveDecision(ctx, decision); err != nil {
		return err
	}
	s.logger.Info().Str("fund", decision.FundCode).Str("action", string(decision.UserAction)).Msg("Decision recorded")
	return nil
}

// ListDecisions returns decision logs, newest first, optionally filtered.
func (s *Service) ListDecisions(ctx context.Context, fundCode string, action models.UserAction, limit, skip int) ([]*models.DecisionLog, error) {
	return s.storage.AccountStore().ListDecisions(ctx, fundCode, action, limit, skip)
}

// DeleteDecision removes one decision log.
func (s *Service) DeleteDecision(ctx context.Context, id string) error {
	return s.storage.AccountStore().DeleteDecision(ctx, id)
}

// Ensure Service implements LedgerService
var _ interfaces.LedgerService = (*Service)(nil)
