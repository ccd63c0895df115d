package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the kind of member account.
type AccountType string

const (
	AccountSavings AccountType = "savings"
	AccountShares  AccountType = "shares"
	AccountDeposit AccountType = "deposit"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountSavings, AccountShares, AccountDeposit:
		return true
	}
	return false
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account is a member-owned savings, shares or fixed-deposit account.
// Balance only changes through journal entries.
type Account struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Type       AccountType     `json:"type"`
	Balance    decimal.Decimal `json:"balance"`
	MinBalance decimal.Decimal `json:"min_balance"`
	Currency   string          `json:"currency"`
	Status     AccountStatus   `json:"status"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Available is the amount that can be debited without breaching the minimum balance.
func (a Account) Available() decimal.Decimal {
	avail := a.Balance.Sub(a.MinBalance)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}
