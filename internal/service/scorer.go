package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Scorer turns aggregated revenue and loan history into loan eligibility.
// It reads without taking entity locks.
type Scorer struct {
	Deps
	agg   *revenue.Aggregator
	cache ReportCache
}

// Growth potential labels.
const (
	GrowthHigh     = "high"
	GrowthModerate = "moderate"
	GrowthLow      = "low"
)

var growthThreshold = decimal.NewFromInt(20)

// ScoreEligibility derives eligibility from total revenue, the number of
// sources with revenue and the member's loan history. Risk falls with higher
// revenue, more sources and a clean repayment record.
func ScoreEligibility(r rules.EligibilityRules, total decimal.Decimal, sourceCount int, h models.LoanHistory) models.EligibilityResult {
	points := 0
	switch {
	case total.GreaterThanOrEqual(r.HighRevenue):
		points += 2
	case total.GreaterThanOrEqual(r.MediumRevenue):
		points++
	}
	switch {
	case sourceCount >= 3:
		points += 2
	case sourceCount == 2:
		points++
	}
	if h.PaidOff > 0 {
		points++
	}
	if h.Overdue > 0 {
		points -= 2
	}
	if h.Defaulted > 0 {
		points -= 3
	}

	risk := models.RiskHigh
	switch {
	case points >= 4:
		risk = models.RiskLow
	case points >= 2:
		risk = models.RiskMedium
	}

	return models.EligibilityResult{
		Eligible:           total.GreaterThanOrEqual(r.MinRevenue) && h.Defaulted == 0,
		MaxLoanAmount:      total.Mul(r.MaxLoanMultiplier).Round(2),
		RecommendedPayment: total.Mul(r.RecommendedPaymentPercent).Div(hundred).Round(2),
		RiskLevel:          risk,
	}
}

// GrowthPotential compares revenue against the previous period.
func GrowthPotential(current, previous decimal.Decimal) string {
	if !previous.IsPositive() {
		if current.IsPositive() {
			return GrowthHigh
		}
		return GrowthLow
	}
	growth := current.Sub(previous).Mul(hundred).Div(previous)
	switch {
	case growth.GreaterThanOrEqual(growthThreshold):
		return GrowthHigh
	case !growth.IsNegative():
		return GrowthModerate
	}
	return GrowthLow
}

// History counts a member's loans by outcome.
func (s *Scorer) History(ctx context.Context, memberID string) (models.LoanHistory, error) {
	loans, err := s.Store.ListLoansByMember(ctx, memberID)
	if err != nil {
		return models.LoanHistory{}, err
	}
	var h models.LoanHistory
	for _, l := range loans {
		switch l.Status {
		case models.LoanActive:
			h.Active++
		case models.LoanOverdue:
			h.Overdue++
		case models.LoanDefaulted:
			h.Defaulted++
		case models.LoanPaidOff:
			h.PaidOff++
		}
	}
	return h, nil
}

// Evaluate aggregates a user's revenue for period and scores it.
func (s *Scorer) Evaluate(ctx context.Context, userID string, period models.Period) (models.EligibilityResult, models.RevenueSnapshot, error) {
	start := time.Now()
	defer func() { eligibilityDuration.Observe(time.Since(start).Seconds()) }()

	snap, err := s.agg.Aggregate(ctx, userID, period)
	if err != nil {
		return models.EligibilityResult{}, models.RevenueSnapshot{}, err
	}
	h, err := s.History(ctx, userID)
	if err != nil {
		return models.EligibilityResult{}, models.RevenueSnapshot{}, err
	}
	rs := s.Rules.Current()
	return ScoreEligibility(rs.Eligibility, snap.Total, snap.ActiveSources(), h), snap, nil
}

// Report builds the eligibility report for a period name (see
// revenue.ParsePeriod). Reports are served from the cache when present.
func (s *Scorer) Report(ctx context.Context, userID, periodName string) (models.EligibilityReport, error) {
	rs := s.Rules.Current()
	period, err := revenue.ParsePeriod(periodName, s.Now(), rs.Location)
	if err != nil {
		return models.EligibilityReport{}, err
	}
	if cached, ok := s.cache.Get(ctx, userID, period.Name); ok {
		return cached, nil
	}

	result, snap, err := s.Evaluate(ctx, userID, period)
	if err != nil {
		return models.EligibilityReport{}, err
	}
	prev, err := s.agg.Aggregate(ctx, userID, revenue.Previous(period))
	if err != nil {
		return models.EligibilityReport{}, err
	}
	h, err := s.History(ctx, userID)
	if err != nil {
		return models.EligibilityReport{}, err
	}

	report := models.EligibilityReport{
		UserID:          userID,
		Period:          period.Name,
		PeriodStart:     period.Start,
		PeriodEnd:       period.End,
		Revenue:         make(map[string]decimal.Decimal, len(snap.Sources)+1),
		Breakdown:       make(map[string]decimal.Decimal, len(snap.Percentages)),
		GrowthPotential: GrowthPotential(snap.Total, prev.Total),
		LoanEligibility: result,
	}
	for name, t := range snap.Sources {
		report.Revenue[name] = t.Revenue
	}
	report.Revenue["total"] = snap.Total
	for name, pct := range snap.Percentages {
		report.Breakdown[name+"_percentage"] = pct
	}
	report.Recommendations = recommendations(rs, snap, result, h, report.GrowthPotential)

	s.cache.Set(ctx, report)
	s.Log.WithFields(logrus.Fields{"user_id": userID, "period": period.Name, "eligible": result.Eligible, "risk": result.RiskLevel}).Info("Eligibility report built")
	return report, nil
}

func recommendations(rs *rules.RuleSet, snap models.RevenueSnapshot, res models.EligibilityResult, h models.LoanHistory, growth string) []string {
	var out []string
	cur := rs.Ledger.Currency
	if snap.Total.LessThan(rs.Eligibility.MinRevenue) {
		out = append(out, fmt.Sprintf("Reach at least %s %s revenue in a period to qualify for a revenue-backed loan.",
			cur, rs.Eligibility.MinRevenue.StringFixed(0)))
	}
	if snap.ActiveSources() < 3 {
		out = append(out, "Earn from more modules (music, podcasts, store) to lower your risk level.")
	}
	if h.Overdue > 0 {
		out = append(out, "Bring overdue loan installments up to date.")
	}
	if h.Defaulted > 0 {
		out = append(out, "Settle defaulted loans with the SACCO before applying again.")
	}
	if growth == GrowthLow && snap.Total.IsPositive() {
		out = append(out, "Revenue fell against the previous period; consider promoting new releases.")
	}
	if res.Eligible {
		out = append(out, fmt.Sprintf("You can borrow up to %s %s; keep repayments near %s %s per period.",
			cur, res.MaxLoanAmount.StringFixed(0), cur, res.RecommendedPayment.StringFixed(0)))
	}
	if len(out) == 0 {
		out = append(out, "Keep growing your revenue to raise your borrowing limit.")
	}
	return out
}
