package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// BuildSchedule returns a flat-rate monthly schedule: interest is charged on
// the full principal for the whole term and spread evenly. Amounts are in
// whole cents; the last installment absorbs rounding.
func BuildSchedule(principal, annualRate decimal.Decimal, months int, start time.Time) []models.Installment {
	if months < 1 {
		return nil
	}
	n := decimal.NewFromInt(int64(months))
	totalInterest := principal.Mul(annualRate).Div(hundred).Mul(n).Div(twelve).Round(2)
	basePrincipal := principal.Div(n).RoundDown(2)
	baseInterest := totalInterest.Div(n).RoundDown(2)
	rest := decimal.NewFromInt(int64(months - 1))

	out := make([]models.Installment, months)
	for i := range out {
		p, in := basePrincipal, baseInterest
		if i == months-1 {
			p = principal.Sub(basePrincipal.Mul(rest))
			in = totalInterest.Sub(baseInterest.Mul(rest))
		}
		out[i] = models.Installment{
			Number:    i + 1,
			DueDate:   start.AddDate(0, i+1, 0),
			Principal: p,
			Interest:  in,
			Amount:    p.Add(in),
			Paid:      decimal.Zero,
		}
	}
	return out
}

// applyPayment allocates amount to unpaid penalty first, then to installments
// in due order. The caller has checked amount against the outstanding balance.
func applyPayment(l *models.LoanApplication, amount decimal.Decimal, at time.Time) {
	remaining := amount
	if due := l.PenaltyAccrued.Sub(l.PenaltyPaid); due.IsPositive() {
		pay := decimal.Min(due, remaining)
		l.PenaltyPaid = l.PenaltyPaid.Add(pay)
		remaining = remaining.Sub(pay)
	}
	for i := range l.Schedule {
		if !remaining.IsPositive() {
			return
		}
		inst := &l.Schedule[i]
		if inst.Settled() {
			continue
		}
		pay := decimal.Min(inst.Remaining(), remaining)
		inst.Paid = inst.Paid.Add(pay)
		remaining = remaining.Sub(pay)
		if inst.Settled() {
			paidAt := at
			inst.PaidAt = &paidAt
		}
	}
}

func graceEnd(inst models.Installment, graceDays int) time.Time {
	return inst.DueDate.AddDate(0, 0, graceDays)
}

// pastGrace reports whether an installment is unpaid after its grace period.
func pastGrace(inst models.Installment, graceDays int, asOf time.Time) bool {
	return !inst.Settled() && asOf.After(graceEnd(inst, graceDays))
}

// missedInstallments counts installments unpaid past grace.
func missedInstallments(l *models.LoanApplication, asOf time.Time) int {
	n := 0
	for _, inst := range l.Schedule {
		if pastGrace(inst, l.Product.GracePeriodDays, asOf) {
			n++
		}
	}
	return n
}

// accruePenalty charges penalty_rate_per_day percent of the overdue principal
// for every whole day between the last accrual (or the earliest grace end)
// and asOf. It returns the amount added.
func accruePenalty(l *models.LoanApplication, asOf time.Time) decimal.Decimal {
	grace := l.Product.GracePeriodDays
	overdue := decimal.Zero
	var from time.Time
	for _, inst := range l.Schedule {
		if !pastGrace(inst, grace, asOf) {
			continue
		}
		overdue = overdue.Add(inst.UnpaidPrincipal())
		if end := graceEnd(inst, grace); from.IsZero() || end.Before(from) {
			from = end
		}
	}
	if !overdue.IsPositive() {
		l.PenaltyThrough = nil
		return decimal.Zero
	}
	if l.PenaltyThrough != nil && l.PenaltyThrough.After(from) {
		from = *l.PenaltyThrough
	}
	days := int64(asOf.Sub(from) / (24 * time.Hour))
	if days <= 0 {
		if l.PenaltyThrough == nil {
			through := from
			l.PenaltyThrough = &through
		}
		return decimal.Zero
	}
	penalty := overdue.Mul(l.Product.PenaltyRatePerDay).Div(hundred).Mul(decimal.NewFromInt(days)).Round(2)
	through := from.Add(time.Duration(days) * 24 * time.Hour)
	l.PenaltyThrough = &through
	l.PenaltyAccrued = l.PenaltyAccrued.Add(penalty)
	return penalty
}
