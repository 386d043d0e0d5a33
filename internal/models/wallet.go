package models

import (
	"fmt"
	"time"
)

// Wallet is a participant's prepaid balance plus, for providers, accumulated earnings.
type Wallet struct {
	UserID    int64     `json:"user_id"`
	Balance   Amount    `json:"balance"`
	Earnings  Amount    `json:"earnings"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LedgerDirection string

const (
	DirectionCredit LedgerDirection = "credit"
	DirectionDebit  LedgerDirection = "debit"
)

type LedgerCategory string

const (
	CategoryConsultation LedgerCategory = "consultation"
	CategoryEarning      LedgerCategory = "earning"
	CategoryTopUp        LedgerCategory = "top_up"
	CategoryWithdrawal   LedgerCategory = "withdrawal"
	CategorySubscription LedgerCategory = "subscription"
	CategoryRefund       LedgerCategory = "refund"
)

const LedgerStatusCompleted = "completed"

// LedgerEntry is an immutable record of one balance movement.
type LedgerEntry struct {
	ID             int64           `json:"id"`
	Reference      string          `json:"reference"`
	UserID         int64           `json:"user_id"`
	Direction      LedgerDirection `json:"direction"`
	Category       LedgerCategory  `json:"category"`
	Amount         Amount          `json:"amount"`
	BalanceBefore  Amount          `json:"balance_before"`
	BalanceAfter   Amount          `json:"balance_after"`
	Status         string          `json:"status"`
	ConsultationID *int64          `json:"consultation_id,omitempty"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks balance_after = balance_before ± amount exactly.
func (e *LedgerEntry) Validate() error {
	if e.Amount < 0 {
		return fmt.Errorf("ledger entry amount must not be negative: %d", e.Amount)
	}
	if e.UserID <= 0 {
		return fmt.Errorf("ledger entry requires an owner")
	}
	var expected Amount
	switch e.Direction {
	case DirectionCredit:
		expected = e.BalanceBefore + e.Amount
	case DirectionDebit:
		expected = e.BalanceBefore - e.Amount
	default:
		return fmt.Errorf("unknown ledger direction %q", e.Direction)
	}
	if expected != e.BalanceAfter {
		return fmt.Errorf("ledger entry does not balance: before=%s amount=%s after=%s", e.BalanceBefore, e.Amount, e.BalanceAfter)
	}
	return nil
}
