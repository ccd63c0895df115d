package rules

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/models"
)

// LedgerRules bound deposits and withdrawals.
type LedgerRules struct {
	Currency            string
	MinDeposit          decimal.Decimal
	MaxDeposit          decimal.Decimal
	MinWithdrawal       decimal.Decimal
	MaxWithdrawal       decimal.Decimal
	MaxDailyWithdrawals int
	// MethodDailyLimits caps the same-day member-initiated volume per payment method.
	MethodDailyLimits map[string]decimal.Decimal
	MinBalances       map[models.AccountType]decimal.Decimal
}

// LoanRules are loan policies that are not product specific.
type LoanRules struct {
	// GuarantorCapacityRatio is the multiple of savings+shares a guarantor may pledge.
	GuarantorCapacityRatio   decimal.Decimal
	DefaultAfterMissedCycles int
	ReminderDays             int
}

// CreditRules configure the rewards engine.
type CreditRules struct {
	CategoryCaps map[string]decimal.Decimal
	EarnRates    map[string]decimal.Decimal
	// DailyEarnCap bounds all categories together; zero disables it.
	DailyEarnCap decimal.Decimal
	DailyBonus   decimal.Decimal
}

// EligibilityRules drive revenue based scoring.
type EligibilityRules struct {
	MinRevenue                decimal.Decimal
	MediumRevenue             decimal.Decimal
	HighRevenue               decimal.Decimal
	MaxLoanMultiplier         decimal.Decimal
	RecommendedPaymentPercent decimal.Decimal
}

// RepaymentRules bound automated royalty deductions.
type RepaymentRules struct {
	MaxDeductionPercent    decimal.Decimal
	ProtectedMinimumPayout decimal.Decimal
}

// RuleSet is an immutable snapshot of business rules. Take one snapshot per
// operation and do not mutate it.
type RuleSet struct {
	Version     string
	Location    *time.Location
	Ledger      LedgerRules
	Loans       LoanRules
	Credits     CreditRules
	Eligibility EligibilityRules
	Repayment   RepaymentRules
	Products    []models.LoanProduct
}

// Day returns the calendar day of t in the rule set's timezone.
func (r *RuleSet) Day(t time.Time) string {
	return t.In(r.Location).Format("2006-01-02")
}

// StartOfDay returns midnight of t's calendar day in the rule set's timezone.
func (r *RuleSet) StartOfDay(t time.Time) time.Time {
	local := t.In(r.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.Location)
}

func (r *RuleSet) MinBalance(t models.AccountType) decimal.Decimal {
	return r.Ledger.MinBalances[t]
}

// MethodLimit returns the daily limit for a method and whether one is configured.
func (r *RuleSet) MethodLimit(method string) (decimal.Decimal, bool) {
	limit, ok := r.Ledger.MethodDailyLimits[method]
	return limit, ok
}

// CategoryCap returns the daily cap of a credit category and whether it exists.
func (r *RuleSet) CategoryCap(category string) (decimal.Decimal, bool) {
	limit, ok := r.Credits.CategoryCaps[category]
	return limit, ok
}

func (r *RuleSet) EarnRate(category string) decimal.Decimal {
	if rate, ok := r.Credits.EarnRates[category]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the compiled-in rule set.
func Default() *RuleSet {
	loc, err := time.LoadLocation("Africa/Kampala")
	if err != nil {
		loc = time.FixedZone("EAT", 3*60*60)
	}
	return &RuleSet{
		Version:  "default",
		Location: loc,
		Ledger: LedgerRules{
			Currency:            "UGX",
			MinDeposit:          d("1000"),
			MaxDeposit:          d("50000000"),
			MinWithdrawal:       d("1000"),
			MaxWithdrawal:       d("20000000"),
			MaxDailyWithdrawals: 3,
			MethodDailyLimits: map[string]decimal.Decimal{
				"mobile_money": d("5000000"),
			},
			MinBalances: map[models.AccountType]decimal.Decimal{
				models.AccountSavings: d("5000"),
				models.AccountShares:  d("0"),
				models.AccountDeposit: d("0"),
			},
		},
		Loans: LoanRules{
			GuarantorCapacityRatio:   d("1"),
			DefaultAfterMissedCycles: 3,
			ReminderDays:             3,
		},
		Credits: CreditRules{
			CategoryCaps: map[string]decimal.Decimal{
				"listening": d("50"),
				"social":    d("30"),
				"upload":    d("40"),
			},
			EarnRates: map[string]decimal.Decimal{
				"listening": d("0.5"),
				"social":    d("2"),
				"upload":    d("10"),
			},
			DailyEarnCap: decimal.Zero,
			DailyBonus:   d("5"),
		},
		Eligibility: EligibilityRules{
			MinRevenue:                d("100000"),
			MediumRevenue:             d("500000"),
			HighRevenue:               d("2000000"),
			MaxLoanMultiplier:         d("3"),
			RecommendedPaymentPercent: d("30"),
		},
		Repayment: RepaymentRules{
			MaxDeductionPercent:    d("50"),
			ProtectedMinimumPayout: d("20000"),
		},
	}
}

// Provider hands out the current rule snapshot. Replace swaps it atomically;
// operations already holding the previous snapshot are unaffected.
type Provider struct {
	current atomic.Pointer[RuleSet]
}

func NewProvider(rs *RuleSet) *Provider {
	p := &Provider{}
	p.current.Store(rs)
	return p
}

func (p *Provider) Current() *RuleSet {
	return p.current.Load()
}

func (p *Provider) Replace(rs *RuleSet) {
	p.current.Store(rs)
}
