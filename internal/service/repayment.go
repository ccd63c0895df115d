package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Repayments redirects part of a member's royalties to their loan. Nothing
// is deducted without an active mandate, and each period is processed once.
type Repayments struct {
	Deps
	loans *Loans
	agg   *revenue.Aggregator
}

// DeductionResult describes one processed royalty deduction.
type DeductionResult struct {
	UserID    string            `json:"user_id"`
	LoanID    string            `json:"loan_id"`
	Period    string            `json:"period"`
	Royalty   decimal.Decimal   `json:"royalty"`
	Deduction decimal.Decimal   `json:"deduction"`
	Payout    decimal.Decimal   `json:"payout"`
	Status    models.LoanStatus `json:"loan_status"`
}

// ProcessSummary counts the outcome of a batch run over all mandates.
type ProcessSummary struct {
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Deducted  decimal.Decimal `json:"deducted"`
}

// Mandate returns a user's repayment mandate.
func (r *Repayments) Mandate(ctx context.Context, userID string) (models.RepaymentMandate, error) {
	return r.Store.GetMandate(ctx, userID)
}

// OptIn activates automated deductions of percent of each period's royalties
// toward loanID.
func (r *Repayments) OptIn(ctx context.Context, actor models.Actor, userID, loanID string, percent decimal.Decimal) (models.RepaymentMandate, error) {
	if err := requireSelfOrAdmin(actor, userID); err != nil {
		return models.RepaymentMandate{}, err
	}
	rs := r.Rules.Current()
	if !percent.IsPositive() || percent.GreaterThan(rs.Repayment.MaxDeductionPercent) {
		return models.RepaymentMandate{}, apperr.Validation("deduction percent must be above 0 and at most %s", rs.Repayment.MaxDeductionPercent)
	}
	loan, err := r.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.RepaymentMandate{}, err
	}
	if loan.MemberID != userID {
		return models.RepaymentMandate{}, apperr.Validation("loan %s does not belong to %s", loanID, userID)
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
		return models.RepaymentMandate{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}

	release := r.Locks.Lock(lock.Mandate(userID))
	defer release()

	now := r.Now()
	m, err := r.Store.GetMandate(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		m = models.RepaymentMandate{UserID: userID}
	case err != nil:
		return models.RepaymentMandate{}, err
	}
	if m.LoanID != loanID {
		m.LastProcessedPeriod = ""
	}
	m.LoanID = loanID
	m.DeductionPercent = percent
	m.Active = true
	m.OptedInAt = now
	m.UpdatedAt = now
	m.Version++

	b := &repository.Batch{
		Mandates: []models.RepaymentMandate{m},
		Audit:    []models.AuditEntry{auditEntry(actor, "mandate.opt_in", "mandate", userID, percent.String()+"% to loan "+loanID, now)},
	}
	if err := r.Store.Commit(ctx, b); err != nil {
		return models.RepaymentMandate{}, err
	}
	r.Log.WithFields(logrus.Fields{"user_id": userID, "loan_id": loanID, "percent": percent.String()}).Info("Repayment mandate activated")
	return m, nil
}

// OptOut stops automated deductions.
func (r *Repayments) OptOut(ctx context.Context, actor models.Actor, userID string) (models.RepaymentMandate, error) {
	if err := requireSelfOrAdmin(actor, userID); err != nil {
		return models.RepaymentMandate{}, err
	}
	release := r.Locks.Lock(lock.Mandate(userID))
	defer release()

	m, err := r.Store.GetMandate(ctx, userID)
	if err != nil {
		return models.RepaymentMandate{}, err
	}
	if !m.Active {
		return m, nil
	}
	now := r.Now()
	m.Active = false
	m.UpdatedAt = now
	m.Version++
	b := &repository.Batch{
		Mandates: []models.RepaymentMandate{m},
		Audit:    []models.AuditEntry{auditEntry(actor, "mandate.opt_out", "mandate", userID, "", now)},
	}
	if err := r.Store.Commit(ctx, b); err != nil {
		return models.RepaymentMandate{}, err
	}
	r.Log.WithField("user_id", userID).Info("Repayment mandate deactivated")
	return m, nil
}

// ComputeDeduction returns percent of royalty, capped at the loan's
// outstanding balance. It fails when the deduction is more than the royalty
// or would leave less than the protected minimum payout.
func ComputeDeduction(r rules.RepaymentRules, royalty, outstanding, percent decimal.Decimal) (decimal.Decimal, error) {
	if !royalty.IsPositive() {
		return decimal.Zero, apperr.New(apperr.KindInsufficientFunds, "no royalty revenue available")
	}
	deduction := royalty.Mul(percent).Div(hundred).Round(2)
	if deduction.GreaterThan(outstanding) {
		deduction = outstanding
	}
	if deduction.GreaterThan(royalty) {
		return decimal.Zero, apperr.New(apperr.KindInsufficientFunds, "deduction %s exceeds royalty %s", deduction.StringFixed(2), royalty.StringFixed(2))
	}
	if payout := royalty.Sub(deduction); payout.LessThan(r.ProtectedMinimumPayout) {
		return decimal.Zero, apperr.New(apperr.KindLimitExceeded, "payout %s would fall below the protected minimum %s",
			payout.StringFixed(2), r.ProtectedMinimumPayout.StringFixed(2))
	}
	return deduction, nil
}

// Process applies the user's mandate to the royalties of a period. An empty
// period name means the last complete month.
func (r *Repayments) Process(ctx context.Context, userID, periodName string) (DeductionResult, error) {
	rs := r.Rules.Current()
	period, err := r.period(rs, periodName)
	if err != nil {
		return DeductionResult{}, err
	}
	m, err := r.Store.GetMandate(ctx, userID)
	if err != nil {
		return DeductionResult{}, err
	}
	if !m.Active {
		return DeductionResult{}, apperr.New(apperr.KindStateConflict, "repayment mandate of %s is not active", userID)
	}
	if m.LastProcessedPeriod == period.Name {
		return DeductionResult{}, apperr.New(apperr.KindAlreadyProcessed, "period %s already processed for %s", period.Name, userID)
	}

	snap, err := r.agg.Aggregate(ctx, userID, period)
	if err != nil {
		return DeductionResult{}, err
	}
	loan, err := r.Store.GetLoan(ctx, m.LoanID)
	if err != nil {
		return DeductionResult{}, err
	}
	deduction, err := ComputeDeduction(rs.Repayment, snap.Total, loan.Outstanding(), m.DeductionPercent)
	if err != nil {
		r.Log.WithFields(logrus.Fields{"user_id": userID, "period": period.Name}).Warnf("Royalty deduction rejected: %v", err)
		return DeductionResult{}, err
	}

	req := RepaymentRequest{
		Amount:    deduction,
		Method:    "royalty",
		Reference: "royalty:" + period.Name + ":" + m.LoanID,
	}
	res, err := r.loans.repay(ctx, models.SystemActor, m.LoanID, req, deduction, []string{lock.Mandate(userID)}, func(b *repository.Batch) error {
		cur, err := r.Store.GetMandate(ctx, userID)
		if err != nil {
			return err
		}
		if !cur.Active || cur.LoanID != m.LoanID {
			return apperr.New(apperr.KindConflict, "repayment mandate of %s changed", userID)
		}
		if cur.LastProcessedPeriod == period.Name {
			return apperr.New(apperr.KindAlreadyProcessed, "period %s already processed for %s", period.Name, userID)
		}
		now := r.Now()
		cur.LastProcessedPeriod = period.Name
		cur.UpdatedAt = now
		if b.Loans[0].Status == models.LoanPaidOff {
			cur.Active = false
		}
		cur.Version++
		b.Mandates = append(b.Mandates, cur)
		b.Audit = append(b.Audit, auditEntry(models.SystemActor, "mandate.deduct", "mandate", userID, period.Name, now))
		return nil
	})
	if err != nil {
		return DeductionResult{}, err
	}

	r.Log.WithFields(logrus.Fields{
		"user_id": userID, "loan_id": m.LoanID, "period": period.Name,
		"royalty": snap.Total.String(), "deduction": deduction.String(),
	}).Info("Royalty deduction applied")
	return DeductionResult{
		UserID:    userID,
		LoanID:    m.LoanID,
		Period:    period.Name,
		Royalty:   snap.Total,
		Deduction: deduction,
		Payout:    snap.Total.Sub(deduction),
		Status:    res.Loan.Status,
	}, nil
}

// ProcessAll runs Process for every active mandate. Mandates already
// processed for the period are skipped; other failures are collected.
func (r *Repayments) ProcessAll(ctx context.Context, periodName string) (ProcessSummary, error) {
	summary := ProcessSummary{Deducted: decimal.Zero}
	mandates, err := r.Store.ListActiveMandates(ctx)
	if err != nil {
		return summary, err
	}
	var errs []error
	for _, m := range mandates {
		res, err := r.Process(ctx, m.UserID, periodName)
		switch {
		case errors.Is(err, apperr.ErrAlreadyProcessed):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			errs = append(errs, err)
		default:
			summary.Processed++
			summary.Deducted = summary.Deducted.Add(res.Deduction)
		}
	}
	r.Log.WithFields(logrus.Fields{
		"processed": summary.Processed, "skipped": summary.Skipped,
		"failed": summary.Failed, "deducted": summary.Deducted.String(),
	}).Info("Royalty deductions finished")
	return summary, errors.Join(errs...)
}

func (r *Repayments) period(rs *rules.RuleSet, name string) (models.Period, error) {
	if name == "" {
		cur, err := revenue.ParsePeriod("", r.Now(), rs.Location)
		if err != nil {
			return models.Period{}, err
		}
		return revenue.Previous(cur), nil
	}
	return revenue.ParsePeriod(name, r.Now(), rs.Location)
}
