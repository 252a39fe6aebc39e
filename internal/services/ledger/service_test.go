package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/models"
	testcommon "github.com/bobmcallan/fundterm/test/common"
)

// --- Test helpers ---

func testService() (*Service, *testcommon.MemoryStorage) {
	storage := testcommon.NewMemoryStorage()
	logger := common.NewSilentLogger()
	svc := NewService(storage, nil, logger, WithClock(func() time.Time {
		return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	}))
	return svc, storage
}

func buyInput(symbol string, qty, price float64) models.TransactionInput {
	return models.TransactionInput{
		Symbol:    symbol,
		AssetType: models.AssetFund,
		Date:      "2025-01-15",
		Type:      models.TxBuy,
		Quantity:  qty,
		Price:     price,
	}
}

func sellInput(symbol string, qty, price float64) models.TransactionInput {
	in := buyInput(symbol, qty, price)
	in.Type = models.TxSell
	return in
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// --- Tests ---

func TestRecordTransactionCreatesPosition(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	tx, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10))
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if tx.ID == "" {
		t.Error("transaction should have an ID")
	}
	if !closeTo(tx.Amount, 1000) {
		t.Errorf("amount should default to quantity*price, got %v", tx.Amount)
	}

	pos, err := svc.GetPosition(ctx, "000001", models.AssetFund)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos == nil {
		t.Fatal("position should exist after buy")
	}
	if !closeTo(pos.Quantity, 100) || !closeTo(pos.CostPrice, 10) {
		t.Errorf("position = %v @ %v, want 100 @ 10", pos.Quantity, pos.CostPrice)
	}
	if pos.Version != 1 {
		t.Errorf("fresh position version = %d, want 1", pos.Version)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 50, 13)); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	pos, err := svc.GetPosition(ctx, "000001", models.AssetFund)
	if err != nil || pos == nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if !closeTo(pos.Quantity, 150) {
		t.Errorf("quantity = %v, want 150", pos.Quantity)
	}
	// (100*10 + 50*13) / 150 = 11.0
	if !closeTo(pos.CostPrice, 11.0) {
		t.Errorf("cost price = %v, want 11.0", pos.CostPrice)
	}
	if pos.Version != 2 {
		t.Errorf("version = %d, want 2", pos.Version)
	}
}

func TestSellKeepsCostBasis(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, sellInput("000001", 40, 12)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos == nil {
		t.Fatal("position should survive a partial sell")
	}
	if !closeTo(pos.Quantity, 60) {
		t.Errorf("quantity = %v, want 60", pos.Quantity)
	}
	if !closeTo(pos.CostPrice, 10) {
		t.Errorf("cost price changed on sell: got %v, want 10", pos.CostPrice)
	}
}

func TestSellToZeroDeletesPosition(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 50, 13)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, sellInput("000001", 150, 12)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos != nil {
		t.Errorf("position should be deleted after selling everything, got %+v", pos)
	}
	if n := storage.TransactionCount(); n != 3 {
		t.Errorf("transaction log should keep all 3 events, got %d", n)
	}

	txs, err := svc.ListTransactions(ctx, "000001", models.AssetFund)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 3 {
		t.Errorf("ListTransactions returned %d, want 3", len(txs))
	}
}

func TestSellInsufficientHolding(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	// No position at all.
	_, err := svc.RecordTransaction(ctx, sellInput("000001", 10, 12))
	var insufficient *InsufficientHoldingError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientHoldingError, got %v", err)
	}
	if !closeTo(insufficient.Available, 0) {
		t.Errorf("available = %v, want 0", insufficient.Available)
	}

	// Position smaller than the sell.
	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 5, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	_, err = svc.RecordTransaction(ctx, sellInput("000001", 10, 12))
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientHoldingError, got %v", err)
	}
	if !closeTo(insufficient.Requested, 10) || !closeTo(insufficient.Available, 5) {
		t.Errorf("requested/available = %v/%v, want 10/5", insufficient.Requested, insufficient.Available)
	}

	// The failed sells must not have been recorded.
	if n := storage.TransactionCount(); n != 1 {
		t.Errorf("only the buy should be recorded, got %d transactions", n)
	}
	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos == nil || !closeTo(pos.Quantity, 5) {
		t.Errorf("position should be untouched by rejected sells, got %+v", pos)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	tests := []struct {
		name    string
		modify  func(*models.TransactionInput)
		wantErr string
	}{
		{
			name:    "empty symbol",
			modify:  func(in *models.TransactionInput) { in.Symbol = "" },
			wantErr: "symbol is required",
		},
		{
			name:    "bad asset type",
			modify:  func(in *models.TransactionInput) { in.AssetType = "bond" },
			wantErr: "invalid asset type",
		},
		{
			name:    "bad transaction type",
			modify:  func(in *models.TransactionInput) { in.Type = "short" },
			wantErr: "invalid transaction type",
		},
		{
			name:    "zero quantity",
			modify:  func(in *models.TransactionInput) { in.Quantity = 0 },
			wantErr: "quantity must be positive",
		},
		{
			name:    "negative price",
			modify:  func(in *models.TransactionInput) { in.Price = -1 },
			wantErr: "price must be positive",
		},
		{
			name:    "short date",
			modify:  func(in *models.TransactionInput) { in.Date = "2025" },
			wantErr: "date must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := buyInput("000001", 100, 10)
			tt.modify(&in)
			_, err := svc.RecordTransaction(ctx, in)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecordTransactionExplicitAmount(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	amount := 995.0
	in := buyInput("000001", 100, 10)
	in.Amount = &amount

	tx, err := svc.RecordTransaction(ctx, in)
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if !closeTo(tx.Amount, 995) {
		t.Errorf("amount = %v, want the explicit 995", tx.Amount)
	}
}

func TestVersionConflictRetry(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	// Two conflicts, then success: stays inside the retry budget.
	storage.ConflictsBeforeSuccess = 2
	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("should succeed within retry budget: %v", err)
	}

	// More conflicts than attempts: the operation gives up.
	storage.ConflictsBeforeSuccess = 5
	_, err := svc.RecordTransaction(ctx, buyInput("000002", 100, 10))
	if err == nil || !strings.Contains(err.Error(), "not recorded after") {
		t.Errorf("expected retry exhaustion, got %v", err)
	}
}

func TestReverseBuyRestoresState(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	tx2, err := svc.RecordTransaction(ctx, buyInput("000001", 50, 13))
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	if err := svc.ReverseTransaction(ctx, tx2.ID); err != nil {
		t.Fatalf("ReverseTransaction failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos == nil {
		t.Fatal("position should survive reversal of the second buy")
	}
	if !closeTo(pos.Quantity, 100) || !closeTo(pos.CostPrice, 10) {
		t.Errorf("position = %v @ %v, want the pre-trade 100 @ 10", pos.Quantity, pos.CostPrice)
	}

	if tx, _ := svc.storage.LedgerStore().GetTransaction(ctx, tx2.ID); tx != nil {
		t.Error("reversed transaction should be removed from the log")
	}
}

func TestReverseOnlyBuyDeletesPosition(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	tx, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := svc.ReverseTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("ReverseTransaction failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos != nil {
		t.Errorf("position should be deleted when the only buy is reversed, got %+v", pos)
	}
}

func TestReverseSellRestoresQuantity(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	sellTx, err := svc.RecordTransaction(ctx, sellInput("000001", 40, 12))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if err := svc.ReverseTransaction(ctx, sellTx.ID); err != nil {
		t.Fatalf("ReverseTransaction failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos == nil || !closeTo(pos.Quantity, 100) {
		t.Errorf("quantity should be restored to 100, got %+v", pos)
	}
	if !closeTo(pos.CostPrice, 10) {
		t.Errorf("cost price = %v, want 10", pos.CostPrice)
	}
}

func TestReverseSellRecreatesClosedPosition(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	sellTx, err := svc.RecordTransaction(ctx, sellInput("000001", 100, 12))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund); pos != nil {
		t.Fatal("position should be closed before the reversal")
	}

	if err := svc.ReverseTransaction(ctx, sellTx.ID); err != nil {
		t.Fatalf("ReverseTransaction failed: %v", err)
	}

	pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund)
	if pos == nil {
		t.Fatal("reversing the closing sell should recreate the position")
	}
	if !closeTo(pos.Quantity, 100) || !closeTo(pos.CostPrice, 12) {
		t.Errorf("recreated position = %v @ %v, want 100 @ the sell price 12", pos.Quantity, pos.CostPrice)
	}
}

func TestReverseUnknownTransaction(t *testing.T) {
	svc, _ := testService()

	err := svc.ReverseTransaction(context.Background(), "missing-id")
	if err == nil || !strings.Contains(err.Error(), "transaction not found") {
		t.Errorf("err = %v, want transaction not found", err)
	}
}

func TestReverseBuyInconsistent(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	buyTx, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	// Selling most of the holding makes the original buy impossible to back out.
	if _, err := svc.RecordTransaction(ctx, sellInput("000001", 60, 12)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	err = svc.ReverseTransaction(ctx, buyTx.ID)
	var inconsistent *InconsistentReversalError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected InconsistentReversalError, got %v", err)
	}
	if inconsistent.TransactionID != buyTx.ID {
		t.Errorf("error names transaction %s, want %s", inconsistent.TransactionID, buyTx.ID)
	}
}

func TestClearSymbol(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, buyInput("000001", 100, 10)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, sellInput("000001", 40, 12)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	removed, err := svc.ClearSymbol(ctx, "000001", models.AssetFund)
	if err != nil {
		t.Fatalf("ClearSymbol failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if pos, _ := svc.GetPosition(ctx, "000001", models.AssetFund); pos != nil {
		t.Error("position should be gone after ClearSymbol")
	}
}

func TestCapital(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	capital, err := svc.GetCapital(ctx)
	if err != nil {
		t.Fatalf("GetCapital failed: %v", err)
	}
	if !closeTo(capital, models.DefaultCapital) {
		t.Errorf("unset capital = %v, want default %v", capital, models.DefaultCapital)
	}

	if err := svc.SetCapital(ctx, 5000); err != nil {
		t.Fatalf("SetCapital failed: %v", err)
	}
	capital, _ = svc.GetCapital(ctx)
	if !closeTo(capital, 5000) {
		t.Errorf("capital = %v, want 5000", capital)
	}

	if err := svc.SetCapital(ctx, -1); err == nil {
		t.Error("negative capital should be rejected")
	}
}

func TestApplyDecisionHold(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	decision := &models.DecisionLog{
		FundCode:   "000001",
		UserAction: models.ActionHold,
		Notes:      "waiting for the dip",
	}
	if err := svc.ApplyDecision(ctx, decision); err != nil {
		t.Fatalf("ApplyDecision failed: %v", err)
	}
	if decision.ID == "" {
		t.Error("decision should be assigned an ID")
	}
	if decision.Timestamp.IsZero() {
		t.Error("decision should be assigned a timestamp")
	}
	if n := storage.DecisionCount(); n != 1 {
		t.Errorf("decision count = %d, want 1", n)
	}

	// Hold decisions never touch capital.
	capital, _ := svc.GetCapital(ctx)
	if !closeTo(capital, models.DefaultCapital) {
		t.Errorf("capital = %v, want untouched default", capital)
	}
}

func TestApplyDecisionWithCapital(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	if err := svc.SetCapital(ctx, 2000); err != nil {
		t.Fatalf("SetCapital failed: %v", err)
	}

	after := 1500.0
	decision := &models.DecisionLog{
		FundCode:     "000001",
		UserAction:   models.ActionBuy,
		CapitalAfter: &after,
	}
	if err := svc.ApplyDecision(ctx, decision); err != nil {
		t.Fatalf("ApplyDecision failed: %v", err)
	}

	if decision.CapitalBefore == nil || !closeTo(*decision.CapitalBefore, 2000) {
		t.Errorf("capital before should be filled from the account, got %v", decision.CapitalBefore)
	}
	capital, _ := svc.GetCapital(ctx)
	if !closeTo(capital, 1500) {
		t.Errorf("capital = %v, want 1500", capital)
	}
	if n := storage.DecisionCount(); n != 1 {
		t.Errorf("decision count = %d, want 1", n)
	}
}

func TestApplyDecisionAtomicFailure(t *testing.T) {
	svc, storage := testService()
	ctx := context.Background()

	if err := svc.SetCapital(ctx, 2000); err != nil {
		t.Fatalf("SetCapital failed: %v", err)
	}
	storage.FailDecisionWithCapital = fmt.Errorf("store unavailable")

	after := 1500.0
	err := svc.ApplyDecision(ctx, &models.DecisionLog{
		FundCode:     "000001",
		UserAction:   models.ActionBuy,
		CapitalAfter: &after,
	})

	var atomicErr *AtomicUpdateError
	if !errors.As(err, &atomicErr) {
		t.Fatalf("expected AtomicUpdateError, got %v", err)
	}

	// Neither side of the atomic write may have landed.
	if n := storage.DecisionCount(); n != 0 {
		t.Errorf("decision count = %d, want 0 after atomic failure", n)
	}
	capital, _ := svc.GetCapital(ctx)
	if !closeTo(capital, 2000) {
		t.Errorf("capital = %v, want untouched 2000", capital)
	}
}

func TestApplyDecisionValidation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if err := svc.ApplyDecision(ctx, &models.DecisionLog{UserAction: models.ActionHold}); err == nil {
		t.Error("missing fund code should be rejected")
	}
	if err := svc.ApplyDecision(ctx, &models.DecisionLog{FundCode: "000001", UserAction: "panic"}); err == nil {
		t.Error("invalid action should be rejected")
	}
}

func TestListDecisionsFiltering(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	for i, action := range []models.UserAction{models.ActionBuy, models.ActionHold, models.ActionBuy} {
		code := "000001"
		if i == 2 {
			code = "000002"
		}
		if err := svc.ApplyDecision(ctx, &models.DecisionLog{FundCode: code, UserAction: action}); err != nil {
			t.Fatalf("ApplyDecision failed: %v", err)
		}
	}

	all, err := svc.ListDecisions(ctx, "", "", 0, 0)
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered count = %d, want 3", len(all))
	}

	buys, _ := svc.ListDecisions(ctx, "", models.ActionBuy, 0, 0)
	if len(buys) != 2 {
		t.Errorf("buy count = %d, want 2", len(buys))
	}

	fund1, _ := svc.ListDecisions(ctx, "000001", "", 0, 0)
	if len(fund1) != 2 {
		t.Errorf("fund 000001 count = %d, want 2", len(fund1))
	}
}
