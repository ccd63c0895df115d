package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one scheduled loan payment.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Amount    decimal.Decimal `json:"amount"`
	Paid      decimal.Decimal `json:"paid"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Missed    bool            `json:"missed"`
}

func (i Installment) Remaining() decimal.Decimal {
	return i.Amount.Sub(i.Paid)
}

func (i Installment) Settled() bool {
	return !i.Remaining().IsPositive()
}

// UnpaidPrincipal is the principal share of what is still owed on the installment.
func (i Installment) UnpaidPrincipal() decimal.Decimal {
	if i.Amount.IsZero() {
		return decimal.Zero
	}
	return i.Principal.Mul(i.Remaining()).Div(i.Amount).Round(2)
}
