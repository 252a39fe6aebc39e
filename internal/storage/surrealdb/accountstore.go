package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// accountRecordID is the singleton cash-balance document.
const accountRecordID = "main"

// decisionSelectFields aliases decision_id to id for struct mapping.
const decisionSelectFields = "decision_id AS id, fund_code, user_action, prompt, response, amount_rmb, nav, fee, pnl, capital_before, capital_after, notes, timestamp, created_at"

// AccountStore implements interfaces.AccountStore using SurrealDB.
type AccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *surrealdb.DB, logger *common.Logger) *AccountStore {
	return &AccountStore{db: db, logger: logger}
}

func decisionContent(d *models.DecisionLog) map[string]any {
	return map[string]any{
		"decision_id":    d.ID,
		"fund_code":      d.FundCode,
		"user_action":    d.UserAction,
		"prompt":         d.Prompt,
		"response":       d.Response,
		"amount_rmb":     d.AmountRMB,
		"nav":            d.Nav,
		"fee":            d.Fee,
		"pnl":            d.PnL,
		"capital_before": d.CapitalBefore,
		"capital_after":  d.CapitalAfter,
		"notes":          d.Notes,
		"timestamp":      d.Timestamp,
		"created_at":     d.CreatedAt,
	}
}

func (s *AccountStore) GetCapital(ctx context.Context) (float64, error) {
	account, err := surrealdb.Select[models.Account](ctx, s.db, surrealmodels.NewRecordID("account", accountRecordID))
	if err != nil {
		return 0, fmt.Errorf("failed to select account: %w", err)
	}
	if account == nil || account.UpdatedAt.IsZero() {
		return models.DefaultCapital, nil
	}
	return account.Capital, nil
}

func (s *AccountStore) SetCapital(ctx context.Context, value float64) error {
	account := models.Account{Capital: value, UpdatedAt: time.Now()}

	sql := "UPSERT $rid CONTENT $account"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("account", accountRecordID),
		"account": account,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set capital: %w", err)
	}
	return nil
}

func (s *AccountStore) SaveDecision(ctx context.Context, decision *models.DecisionLog) error {
	sql := "CREATE $rid CONTENT $decision"
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID("decision_log", decision.ID),
		"decision": decisionContent(decision),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// SaveDecisionWithCapital inserts the decision log and overwrites the cash
// balance in one database transaction. Either both land or neither does.
func (s *AccountStore) SaveDecisionWithCapital(ctx context.Context, decision *models.DecisionLog, capitalAfter float64) error {
	sql := `BEGIN TRANSACTION;
CREATE $decision_rid CONTENT $decision;
UPSERT $account_rid CONTENT $account;
COMMIT TRANSACTION;`
	vars := map[string]any{
		"decision_rid": surrealmodels.NewRecordID("decision_log", decision.ID),
		"decision":     decisionContent(decision),
		"account_rid":  surrealmodels.NewRecordID("account", accountRecordID),
		"account":      models.Account{Capital: capitalAfter, UpdatedAt: time.Now()},
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save decision with capital: %w", err)
	}
	return nil
}

func (s *AccountStore) ListDecisions(ctx context.Context, fundCode string, action models.UserAction, limit, skip int) ([]*models.DecisionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}

	sql := "SELECT " + decisionSelectFields + " FROM decision_log"
	where := ""
	vars := map[string]any{"limit": limit, "skip": skip}
	if fundCode != "" {
		where = " WHERE fund_code = $fund_code"
		vars["fund_code"] = fundCode
	}
	if action != "" {
		if where == "" {
			where = " WHERE user_action = $action"
		} else {
			where += " AND user_action = $action"
		}
		vars["action"] = action
	}
	sql += where + " ORDER BY timestamp DESC LIMIT $limit START $skip"

	results, err := surrealdb.Query[[]models.DecisionLog](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	var decisions []*models.DecisionLog
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			decisions = append(decisions, &(*results)[0].Result[i])
		}
	}
	return decisions, nil
}

func (s *AccountStore) DeleteDecision(ctx context.Context, id string) error {
	_, err := surrealdb.Delete[models.DecisionLog](ctx, s.db, surrealmodels.NewRecordID("decision_log", id))
	if err != nil {
		return fmt.Errorf("failed to delete decision: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.AccountStore = (*AccountStore)(nil)
