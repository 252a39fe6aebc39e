package models

import "time"

// UserAction is the trade action recorded on a decision log.
type UserAction string

const (
	ActionBuy  UserAction = "buy"
	ActionSell UserAction = "sell"
	ActionHold UserAction = "hold"
)

// ValidUserAction returns true if a is buy, sell or hold.
func ValidUserAction(a UserAction) bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// DecisionLog is one audit record of an LLM-informed trade decision.
// When UserAction is buy or sell and CapitalAfter is set, persisting the log
// and updating the account capital happen in one store transaction.
type DecisionLog struct {
	ID            string     `json:"id"`
	FundCode      string     `json:"fund_code"`
	UserAction    UserAction `json:"user_action"`
	Prompt        string     `json:"prompt,omitempty"`
	Response      string     `json:"response,omitempty"`
	AmountRMB     *float64   `json:"amount_rmb,omitempty"`
	Nav           *float64   `json:"nav,omitempty"`
	Fee           *float64   `json:"fee,omitempty"`
	PnL           *float64   `json:"pnl,omitempty"`
	CapitalBefore *float64   `json:"capital_before,omitempty"`
	CapitalAfter  *float64   `json:"capital_after,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RolePrompt is one versioned revision of the advisor role prompt.
// Saving always creates a new version; versions start at 1.
type RolePrompt struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
