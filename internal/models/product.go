package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanProduct is one immutable version of an admin-configured loan product.
// InterestRate is an annual percentage; PenaltyRatePerDay is a percentage of
// overdue principal charged per day.
type LoanProduct struct {
	ID                    string          `json:"id"`
	Version               int             `json:"version"`
	Name                  string          `json:"name"`
	MinAmount             decimal.Decimal `json:"min_amount"`
	MaxAmount             decimal.Decimal `json:"max_amount"`
	MinDurationMonths     int             `json:"min_duration_months"`
	MaxDurationMonths     int             `json:"max_duration_months"`
	InterestRate          decimal.Decimal `json:"interest_rate"`
	MinGuarantors         int             `json:"min_guarantors"`
	RequiresCollateral    bool            `json:"requires_collateral"`
	MaxLoanToSavingsRatio decimal.Decimal `json:"max_loan_to_savings_ratio"`
	GracePeriodDays       int             `json:"grace_period_days"`
	PenaltyRatePerDay     decimal.Decimal `json:"penalty_rate_per_day"`
	MaxConcurrentLoans    int             `json:"max_concurrent_loans"`
	RevenueBacked         bool            `json:"revenue_backed"`
	PublishedAt           time.Time       `json:"published_at"`
}

// ReferenceRate is a central bank policy rate observation.
type ReferenceRate struct {
	Rate   decimal.Decimal `json:"rate"`
	Date   time.Time       `json:"date"`
	Source string          `json:"source"`
}
