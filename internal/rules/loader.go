package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Dan9191/sacco-service/internal/models"
)

// file mirrors the YAML rules file. Amounts are strings so they parse
// straight into decimals without a float round trip.
type file struct {
	Version  string `yaml:"version"`
	Timezone string `yaml:"timezone"`
	Ledger   struct {
		Currency            string            `yaml:"currency"`
		MinDeposit          string            `yaml:"min_deposit"`
		MaxDeposit          string            `yaml:"max_deposit"`
		MinWithdrawal       string            `yaml:"min_withdrawal"`
		MaxWithdrawal       string            `yaml:"max_withdrawal"`
		MaxDailyWithdrawals int               `yaml:"max_daily_withdrawals"`
		MethodDailyLimits   map[string]string `yaml:"method_daily_limits"`
		MinBalances         map[string]string `yaml:"min_balances"`
	} `yaml:"ledger"`
	Loans struct {
		GuarantorCapacityRatio   string `yaml:"guarantor_capacity_ratio"`
		DefaultAfterMissedCycles int    `yaml:"default_after_missed_cycles"`
		ReminderDays             int    `yaml:"reminder_days"`
	} `yaml:"loans"`
	Credits struct {
		CategoryCaps map[string]string `yaml:"category_caps"`
		EarnRates    map[string]string `yaml:"earn_rates"`
		DailyEarnCap string            `yaml:"daily_earn_cap"`
		DailyBonus   string            `yaml:"daily_bonus"`
	} `yaml:"credits"`
	Eligibility struct {
		MinRevenue                string `yaml:"min_revenue"`
		MediumRevenue             string `yaml:"medium_revenue"`
		HighRevenue               string `yaml:"high_revenue"`
		MaxLoanMultiplier         string `yaml:"max_loan_multiplier"`
		RecommendedPaymentPercent string `yaml:"recommended_payment_percent"`
	} `yaml:"eligibility"`
	Repayment struct {
		MaxDeductionPercent    string `yaml:"max_deduction_percent"`
		ProtectedMinimumPayout string `yaml:"protected_minimum_payout"`
	} `yaml:"repayment"`
	Products []productFile `yaml:"products"`
}

type productFile struct {
	ID                    string `yaml:"id"`
	Name                  string `yaml:"name"`
	MinAmount             string `yaml:"min_amount"`
	MaxAmount             string `yaml:"max_amount"`
	MinDurationMonths     int    `yaml:"min_duration_months"`
	MaxDurationMonths     int    `yaml:"max_duration_months"`
	InterestRate          string `yaml:"interest_rate"`
	MinGuarantors         int    `yaml:"min_guarantors"`
	RequiresCollateral    bool   `yaml:"requires_collateral"`
	MaxLoanToSavingsRatio string `yaml:"max_loan_to_savings_ratio"`
	GracePeriodDays       int    `yaml:"grace_period_days"`
	PenaltyRatePerDay     string `yaml:"penalty_rate_per_day"`
	MaxConcurrentLoans    int    `yaml:"max_concurrent_loans"`
	RevenueBacked         bool   `yaml:"revenue_backed"`
}

// LoadFile reads a YAML rules file over the defaults. An empty path yields Default().
func LoadFile(path string) (*RuleSet, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML rules onto Default(). Unset fields keep their default.
func Parse(data []byte) (*RuleSet, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	rs := Default()
	p := &parser{}

	if f.Version != "" {
		rs.Version = f.Version
	}
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", f.Timezone, err)
		}
		rs.Location = loc
	}

	l := &rs.Ledger
	if f.Ledger.Currency != "" {
		l.Currency = f.Ledger.Currency
	}
	p.set(&l.MinDeposit, "ledger.min_deposit", f.Ledger.MinDeposit)
	p.set(&l.MaxDeposit, "ledger.max_deposit", f.Ledger.MaxDeposit)
	p.set(&l.MinWithdrawal, "ledger.min_withdrawal", f.Ledger.MinWithdrawal)
	p.set(&l.MaxWithdrawal, "ledger.max_withdrawal", f.Ledger.MaxWithdrawal)
	if f.Ledger.MaxDailyWithdrawals > 0 {
		l.MaxDailyWithdrawals = f.Ledger.MaxDailyWithdrawals
	}
	for method, v := range f.Ledger.MethodDailyLimits {
		var limit decimal.Decimal
		p.set(&limit, "ledger.method_daily_limits."+method, v)
		l.MethodDailyLimits[method] = limit
	}
	for typ, v := range f.Ledger.MinBalances {
		at := models.AccountType(typ)
		if !at.Valid() {
			return nil, fmt.Errorf("unknown account type %q in ledger.min_balances", typ)
		}
		var limit decimal.Decimal
		p.set(&limit, "ledger.min_balances."+typ, v)
		l.MinBalances[at] = limit
	}

	p.set(&rs.Loans.GuarantorCapacityRatio, "loans.guarantor_capacity_ratio", f.Loans.GuarantorCapacityRatio)
	if f.Loans.DefaultAfterMissedCycles > 0 {
		rs.Loans.DefaultAfterMissedCycles = f.Loans.DefaultAfterMissedCycles
	}
	if f.Loans.ReminderDays > 0 {
		rs.Loans.ReminderDays = f.Loans.ReminderDays
	}

	for cat, v := range f.Credits.CategoryCaps {
		var limit decimal.Decimal
		p.set(&limit, "credits.category_caps."+cat, v)
		rs.Credits.CategoryCaps[cat] = limit
	}
	for cat, v := range f.Credits.EarnRates {
		var rate decimal.Decimal
		p.set(&rate, "credits.earn_rates."+cat, v)
		rs.Credits.EarnRates[cat] = rate
	}
	p.set(&rs.Credits.DailyEarnCap, "credits.daily_earn_cap", f.Credits.DailyEarnCap)
	p.set(&rs.Credits.DailyBonus, "credits.daily_bonus", f.Credits.DailyBonus)

	e := &rs.Eligibility
	p.set(&e.MinRevenue, "eligibility.min_revenue", f.Eligibility.MinRevenue)
	p.set(&e.MediumRevenue, "eligibility.medium_revenue", f.Eligibility.MediumRevenue)
	p.set(&e.HighRevenue, "eligibility.high_revenue", f.Eligibility.HighRevenue)
	p.set(&e.MaxLoanMultiplier, "eligibility.max_loan_multiplier", f.Eligibility.MaxLoanMultiplier)
	p.set(&e.RecommendedPaymentPercent, "eligibility.recommended_payment_percent", f.Eligibility.RecommendedPaymentPercent)

	p.set(&rs.Repayment.MaxDeductionPercent, "repayment.max_deduction_percent", f.Repayment.MaxDeductionPercent)
	p.set(&rs.Repayment.ProtectedMinimumPayout, "repayment.protected_minimum_payout", f.Repayment.ProtectedMinimumPayout)

	for _, pf := range f.Products {
		prod := models.LoanProduct{
			ID:                 pf.ID,
			Version:            1,
			Name:               pf.Name,
			MinDurationMonths:  pf.MinDurationMonths,
			MaxDurationMonths:  pf.MaxDurationMonths,
			MinGuarantors:      pf.MinGuarantors,
			RequiresCollateral: pf.RequiresCollateral,
			GracePeriodDays:    pf.GracePeriodDays,
			MaxConcurrentLoans: pf.MaxConcurrentLoans,
			RevenueBacked:      pf.RevenueBacked,
		}
		p.set(&prod.MinAmount, "products."+pf.ID+".min_amount", pf.MinAmount)
		p.set(&prod.MaxAmount, "products."+pf.ID+".max_amount", pf.MaxAmount)
		p.set(&prod.InterestRate, "products."+pf.ID+".interest_rate", pf.InterestRate)
		p.set(&prod.MaxLoanToSavingsRatio, "products."+pf.ID+".max_loan_to_savings_ratio", pf.MaxLoanToSavingsRatio)
		p.set(&prod.PenaltyRatePerDay, "products."+pf.ID+".penalty_rate_per_day", pf.PenaltyRatePerDay)
		rs.Products = append(rs.Products, prod)
	}

	if p.err != nil {
		return nil, p.err
	}
	return rs, nil
}

type parser struct {
	err error
}

func (p *parser) set(dst *decimal.Decimal, field, raw string) {
	if p.err != nil || raw == "" {
		return
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid decimal for %s: %w", field, err)
		return
	}
	if v.IsNegative() {
		p.err = fmt.Errorf("%s must not be negative", field)
		return
	}
	*dst = v
}
