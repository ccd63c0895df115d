package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditTxType is the reason for a credit wallet movement.
type CreditTxType string

const (
	CreditEarn        CreditTxType = "earn"
	CreditSpend       CreditTxType = "spend"
	CreditTransferIn  CreditTxType = "transfer_in"
	CreditTransferOut CreditTxType = "transfer_out"
	CreditBonus       CreditTxType = "bonus"
)

// CreditWallet holds a user's platform credits and today's earning counters.
// Counters belong to ResetDate and are zeroed on the first activity of a new day.
type CreditWallet struct {
	UserID           string                     `json:"user_id"`
	Balance          decimal.Decimal            `json:"balance"`
	EarnedToday      decimal.Decimal            `json:"credits_earned_today"`
	EarnedByCategory map[string]decimal.Decimal `json:"earned_today_by_category"`
	ResetDate        string                     `json:"reset_date"`
	LastBonusDate    string                     `json:"last_bonus_date,omitempty"`
	Version          int64                      `json:"version"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// RollOver zeroes the daily counters when day differs from ResetDate.
func (w *CreditWallet) RollOver(day string) {
	if w.ResetDate == day {
		return
	}
	w.ResetDate = day
	w.EarnedToday = decimal.Zero
	w.EarnedByCategory = make(map[string]decimal.Decimal)
}

// Clone returns a deep copy so a wallet read from the store can be mutated safely.
func (w CreditWallet) Clone() CreditWallet {
	cp := w
	cp.EarnedByCategory = make(map[string]decimal.Decimal, len(w.EarnedByCategory))
	for k, v := range w.EarnedByCategory {
		cp.EarnedByCategory[k] = v
	}
	return cp
}

// CreditTransaction is an immutable credit wallet entry.
type CreditTransaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          CreditTxType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Category      string          `json:"category,omitempty"`
	RelatedUserID string          `json:"related_user_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
