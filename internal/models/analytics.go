package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel of an eligibility decision.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SourceTotals is what every revenue source reports for a user and period.
type SourceTotals struct {
	Streams   int64           `json:"streams"`
	Downloads int64           `json:"downloads"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Period is a half-open reporting window [Start, End).
type Period struct {
	Name  string    `json:"period"`
	Start time.Time `json:"period_start"`
	End   time.Time `json:"period_end"`
}

// RevenueSnapshot is the per-source revenue of one user over one period.
type RevenueSnapshot struct {
	UserID      string                     `json:"user_id"`
	Period      Period                     `json:"period"`
	Sources     map[string]SourceTotals    `json:"sources"`
	Total       decimal.Decimal            `json:"total"`
	Percentages map[string]decimal.Decimal `json:"percentages"`
}

// ActiveSources counts sources with positive revenue.
func (s RevenueSnapshot) ActiveSources() int {
	n := 0
	for _, t := range s.Sources {
		if t.Revenue.IsPositive() {
			n++
		}
	}
	return n
}

// EligibilityResult is the loan eligibility derived from revenue and history.
type EligibilityResult struct {
	Eligible           bool            `json:"eligible"`
	MaxLoanAmount      decimal.Decimal `json:"max_loan_amount"`
	RecommendedPayment decimal.Decimal `json:"recommended_payment"`
	RiskLevel          RiskLevel       `json:"risk_level"`
}

// EligibilityReport is the externally exposed eligibility report.
type EligibilityReport struct {
	UserID          string                     `json:"user_id"`
	Period          string                     `json:"period"`
	PeriodStart     time.Time                  `json:"period_start"`
	PeriodEnd       time.Time                  `json:"period_end"`
	Revenue         map[string]decimal.Decimal `json:"revenue"`
	Breakdown       map[string]decimal.Decimal `json:"breakdown"`
	GrowthPotential string                     `json:"growth_potential"`
	Recommendations []string                   `json:"recommendations"`
	LoanEligibility EligibilityResult          `json:"loan_eligibility"`
}

// RepaymentMandate is a member's opt-in to automated royalty deductions.
type RepaymentMandate struct {
	UserID              string          `json:"user_id"`
	LoanID              string          `json:"loan_id"`
	DeductionPercent    decimal.Decimal `json:"deduction_percent"`
	Active              bool            `json:"active"`
	LastProcessedPeriod string          `json:"last_processed_period,omitempty"`
	Version             int64           `json:"version"`
	OptedInAt           time.Time       `json:"opted_in_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
