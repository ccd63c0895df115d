package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Loans runs the loan application state machine
type Loans struct {
	Deps
	ledger     *Ledger
	catalog    *Catalog
	guarantors *Guarantors
	scorer     *Scorer
	events     EventPublisher
	cache      ReportCache
}

// DraftRequest holds the member-editable fields of an application.
type DraftRequest struct {
	MemberID       string             `json:"member_id"`
	ProductID      string             `json:"product_id"`
	Amount         decimal.Decimal    `json:"amount"`
	DurationMonths int                `json:"duration_months"`
	Purpose        string             `json:"purpose"`
	GuarantorIDs   []string           `json:"guarantor_ids"`
	Collateral     *models.Collateral `json:"collateral"`
}

// DecisionRequest is an admin approve/reject call. ExpectedStatus is the
// status the admin saw; Token makes retries of the same call idempotent.
type DecisionRequest struct {
	Approve        bool              `json:"approve"`
	ExpectedStatus models.LoanStatus `json:"expected_status"`
	Token          string            `json:"token"`
	Reason         string            `json:"reason"`
}

// RepaymentRequest pays down a loan from the member's savings account.
type RepaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

// RepaymentResult is the loan after a repayment and the entries it produced.
type RepaymentResult struct {
	Loan         models.LoanApplication `json:"loan"`
	Transactions []models.Transaction   `json:"transactions"`
}

// DelinquencyReport summarises one delinquency sweep.
type DelinquencyReport struct {
	Checked   int             `json:"checked"`
	Overdue   int             `json:"overdue"`
	CaughtUp  int             `json:"caught_up"`
	Defaulted int             `json:"defaulted"`
	Penalty   decimal.Decimal `json:"penalty"`
}

// ReminderSender delivers payment reminders.
type ReminderSender interface {
	SendPaymentReminder(to, name string, due time.Time, amount, penalty decimal.Decimal, currency string, overdue bool) error
}

// Get reads a loan application.
func (s *Loans) Get(ctx context.Context, id string) (models.LoanApplication, error) {
	return s.Store.GetLoan(ctx, id)
}

// ListByMember lists a member's loans, oldest first.
func (s *Loans) ListByMember(ctx context.Context, memberID string) ([]models.LoanApplication, error) {
	return s.Store.ListLoansByMember(ctx, memberID)
}

// Commitments lists the guarantor commitments backing a loan.
func (s *Loans) Commitments(ctx context.Context, loanID string) ([]models.GuarantorCommitment, error) {
	return s.Store.ListCommitmentsByLoan(ctx, loanID)
}

// Audit returns the audit trail of a loan.
func (s *Loans) Audit(ctx context.Context, loanID string) ([]models.AuditEntry, error) {
	return s.Store.ListAudit(ctx, "loan", loanID)
}

// CreateDraft opens a draft application
func (s *Loans) CreateDraft(ctx context.Context, actor models.Actor, req DraftRequest) (models.LoanApplication, error) {
	if err := requireSelfOrAdmin(actor, req.MemberID); err != nil {
		return models.LoanApplication{}, err
	}
	if _, err := s.Members.Member(ctx, req.MemberID); err != nil {
		return models.LoanApplication{}, err
	}
	if _, err := s.catalog.Get(ctx, req.ProductID); err != nil {
		return models.LoanApplication{}, err
	}

	now := s.Now()
	loan := models.LoanApplication{
		ID:             newID(),
		Status:         models.LoanDraft,
		PenaltyAccrued: decimal.Zero,
		PenaltyPaid:    decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyDraft(&loan, req)
	b := &repository.Batch{
		Loans: []models.LoanApplication{loan},
		Audit: []models.AuditEntry{auditEntry(actor, "loan.create", "loan", loan.ID, "", now)},
	}
	if err := s.Store.Commit(ctx, b); err != nil {
		return models.LoanApplication{}, err
	}
	s.Log.WithFields(logrus.Fields{"loan_id": loan.ID, "member_id": loan.MemberID}).Info("Loan draft created")
	return loan, nil
}

// UpdateDraft replaces the editable fields of a draft.
func (s *Loans) UpdateDraft(ctx context.Context, actor models.Actor, loanID string, req DraftRequest) (models.LoanApplication, error) {
	release := s.Locks.Lock(lock.Loan(loanID))
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, err
	}
	if err := requireSelfOrAdmin(actor, loan.MemberID); err != nil {
		return models.LoanApplication{}, err
	}
	if loan.Status != models.LoanDraft {
		return models.LoanApplication{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}
	if req.ProductID != loan.ProductID {
		if _, err := s.catalog.Get(ctx, req.ProductID); err != nil {
			return models.LoanApplication{}, err
		}
	}
	req.MemberID = loan.MemberID
	applyDraft(&loan, req)
	now := s.Now()
	loan.UpdatedAt = now
	loan.Version++
	b := &repository.Batch{
		Loans: []models.LoanApplication{loan},
		Audit: []models.AuditEntry{auditEntry(actor, "loan.update", "loan", loan.ID, "", now)},
	}
	if err := s.Store.Commit(ctx, b); err != nil {
		return models.LoanApplication{}, err
	}
	return loan, nil
}

func applyDraft(l *models.LoanApplication, req DraftRequest) {
	l.MemberID = req.MemberID
	l.ProductID = req.ProductID
	l.Amount = req.Amount
	l.DurationMonths = req.DurationMonths
	l.Purpose = req.Purpose
	l.GuarantorIDs = append([]string(nil), req.GuarantorIDs...)
	l.Collateral = nil
	if req.Collateral != nil {
		c := *req.Collateral
		c.Documents = append([]string(nil), req.Collateral.Documents...)
		l.Collateral = &c
	}
}

// Submit moves a draft to PendingApproval. Every rule is checked before any
// guarantor capacity is reserved, and the reservations commit together with
// the status change.
func (s *Loans) Submit(ctx context.Context, actor models.Actor, loanID string) (models.LoanApplication, error) {
	draft, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, err
	}
	if err := requireSelfOrAdmin(actor, draft.MemberID); err != nil {
		return models.LoanApplication{}, err
	}

	rs := s.Rules.Current()
	keys := []string{lock.Loan(loanID), lock.Member(draft.MemberID)}
	for _, g := range draft.GuarantorIDs {
		keys = append(keys, lock.Guarantor(g))
	}
	release := s.Locks.LockAll(keys...)
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, err
	}
	if loan.Version != draft.Version {
		return models.LoanApplication{}, apperr.New(apperr.KindConflict, "loan %s changed while submitting", loanID)
	}
	if loan.Status != models.LoanDraft {
		return models.LoanApplication{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}
	product, err := s.catalog.Get(ctx, loan.ProductID)
	if err != nil {
		return models.LoanApplication{}, err
	}

	now := s.Now()
	if err := s.validateSubmission(ctx, rs, &loan, product, now); err != nil {
		s.Log.WithFields(logrus.Fields{"loan_id": loanID, "member_id": loan.MemberID}).Warnf("Loan submission rejected: %v", err)
		return models.LoanApplication{}, err
	}

	b := &repository.Batch{}
	shares := splitCommitment(loan.Amount, len(loan.GuarantorIDs))
	for i, g := range loan.GuarantorIDs {
		if err := s.guarantors.reserve(ctx, rs, b, loan.ID, g, shares[i], now); err != nil {
			s.Log.WithFields(logrus.Fields{"loan_id": loanID, "guarantor_id": g}).Warnf("Loan submission rejected: %v", err)
			return models.LoanApplication{}, err
		}
	}

	loan.Product = &product
	loan.SubmittedAt = &now
	loan.Version++
	ev, err := transition(&loan, models.LoanPendingApproval, models.EventLoanSubmitted, actor, "", now)
	if err != nil {
		return models.LoanApplication{}, err
	}
	b.Loans = append(b.Loans, loan)
	b.Audit = append(b.Audit, auditEntry(actor, "loan.submit", "loan", loan.ID, "", now))
	if err := s.Store.Commit(ctx, b); err != nil {
		return models.LoanApplication{}, err
	}
	s.Log.WithFields(logrus.Fields{"loan_id": loan.ID, "amount": loan.Amount.String(), "product_id": product.ID, "product_version": product.Version}).Info("Loan submitted")
	s.publish(ctx, ev)
	return loan, nil
}

func (s *Loans) validateSubmission(ctx context.Context, rs *rules.RuleSet, loan *models.LoanApplication, p models.LoanProduct, now time.Time) error {
	if loan.Amount.LessThan(p.MinAmount) || loan.Amount.GreaterThan(p.MaxAmount) {
		return apperr.Validation("amount must be between %s and %s", p.MinAmount.StringFixed(2), p.MaxAmount.StringFixed(2))
	}
	if !loan.Amount.Equal(loan.Amount.Round(2)) {
		return apperr.Validation("amount %s has more than two decimal places", loan.Amount)
	}
	if loan.DurationMonths < p.MinDurationMonths || loan.DurationMonths > p.MaxDurationMonths {
		return apperr.Validation("duration must be between %d and %d months", p.MinDurationMonths, p.MaxDurationMonths)
	}
	if len(loan.GuarantorIDs) < p.MinGuarantors {
		return apperr.Validation("product %s requires %d guarantors, got %d", p.ID, p.MinGuarantors, len(loan.GuarantorIDs))
	}
	seen := make(map[string]bool, len(loan.GuarantorIDs))
	for _, g := range loan.GuarantorIDs {
		switch {
		case g == "":
			return apperr.Validation("guarantor id is empty")
		case g == loan.MemberID:
			return apperr.Validation("applicant cannot guarantee own loan")
		case seen[g]:
			return apperr.Validation("guarantor %s listed twice", g)
		}
		seen[g] = true
	}
	if p.RequiresCollateral {
		if !loan.Collateral.Complete() {
			return apperr.Validation("product %s requires collateral with description, value and documents", p.ID)
		}
	}

	member, err := s.Members.Member(ctx, loan.MemberID)
	if err != nil {
		return err
	}
	if member.Status != models.MemberActive {
		return apperr.New(apperr.KindNotEligible, "member %s is %s", member.ID, member.Status)
	}
	others, err := s.Store.ListLoansByMember(ctx, loan.MemberID)
	if err != nil {
		return err
	}
	running := 0
	for _, o := range others {
		if o.ID == loan.ID {
			continue
		}
		if o.Status == models.LoanOverdue || o.Status == models.LoanDefaulted {
			return apperr.New(apperr.KindNotEligible, "member has a %s loan %s", o.Status, o.ID)
		}
		if o.Status.Running() {
			running++
		}
	}
	if running >= p.MaxConcurrentLoans {
		return apperr.New(apperr.KindNotEligible, "member already has %d running loans", running)
	}
	if p.MaxLoanToSavingsRatio.IsPositive() {
		h, err := s.ledger.Holdings(ctx, loan.MemberID)
		if err != nil {
			return err
		}
		limit := h.Savings.Mul(p.MaxLoanToSavingsRatio)
		if loan.Amount.GreaterThan(limit) {
			return apperr.New(apperr.KindNotEligible, "amount exceeds %s times savings (%s)", p.MaxLoanToSavingsRatio, limit.StringFixed(2))
		}
	}
	if p.RevenueBacked {
		period, err := revenue.ParsePeriod("", now, rs.Location)
		if err != nil {
			return err
		}
		res, _, err := s.scorer.Evaluate(ctx, loan.MemberID, revenue.Previous(period))
		if err != nil {
			return err
		}
		loan.Eligibility = &res
		if !res.Eligible {
			return apperr.New(apperr.KindNotEligible, "revenue does not qualify for product %s", p.ID)
		}
		if loan.Amount.GreaterThan(res.MaxLoanAmount) {
			return apperr.New(apperr.KindNotEligible, "amount exceeds revenue-based maximum %s", res.MaxLoanAmount.StringFixed(2))
		}
	}
	for _, g := range loan.GuarantorIDs {
		gm, err := s.Members.Member(ctx, g)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("guarantor %s is not a member", g)
		}
		if err != nil {
			return err
		}
		if gm.Status != models.MemberActive {
			return apperr.Validation("guarantor %s is %s", g, gm.Status)
		}
	}
	return nil
}

// Decide approves or rejects a pending application. A repeated call with the
// same token fails with AlreadyProcessed; any other call on a decided loan
// fails with AlreadyDecided.
func (s *Loans) Decide(ctx context.Context, actor models.Actor, loanID string, req DecisionRequest) (models.LoanApplication, error) {
	if err := requireAdmin(actor, "loan decision"); err != nil {
		return models.LoanApplication{}, err
	}
	if req.Token == "" {
		return models.LoanApplication{}, apperr.Validation("decision token is required")
	}
	if req.ExpectedStatus == "" {
		return models.LoanApplication{}, apperr.Validation("expected status is required")
	}

	release := s.Locks.Lock(lock.Loan(loanID))
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, err
	}
	if loan.Decision != nil {
		if loan.Decision.Token == req.Token {
			return models.LoanApplication{}, apperr.New(apperr.KindAlreadyProcessed, "decision %s already applied", req.Token)
		}
		verb := "rejected"
		if loan.Decision.Approved {
			verb = "approved"
		}
		return models.LoanApplication{}, apperr.New(apperr.KindAlreadyDecided, "loan %s was already %s", loanID, verb)
	}
	if loan.Status != req.ExpectedStatus {
		return models.LoanApplication{}, apperr.New(apperr.KindConflict, "loan %s is %s, expected %s", loanID, loan.Status, req.ExpectedStatus)
	}
	if actor.ID == loan.MemberID {
		return models.LoanApplication{}, apperr.New(apperr.KindForbidden, "members cannot decide their own loans")
	}

	now := s.Now()
	b := &repository.Batch{}
	to, typ, action := models.LoanApproved, models.EventLoanApproved, "loan.approve"
	if !req.Approve {
		to, typ, action = models.LoanRejected, models.EventLoanRejected, "loan.reject"
	}
	ev, err := transition(&loan, to, typ, actor, req.Reason, now)
	if err != nil {
		return models.LoanApplication{}, err
	}
	loan.Decision = &models.Decision{Approved: req.Approve, ActorID: actor.ID, Token: req.Token, Reason: req.Reason, At: now}
	loan.Version++
	if !req.Approve {
		loan.ClosedAt = &now
		releaseCommitments(b, loan.ID, now)
	}
	b.Loans = append(b.Loans, loan)
	b.Audit = append(b.Audit, auditEntry(actor, action, "loan", loan.ID, req.Reason, now))
	if err := s.Store.Commit(ctx, b); err != nil {
		return models.LoanApplication{}, err
	}
	s.Log.WithFields(logrus.Fields{"loan_id": loan.ID, "status": loan.Status, "actor_id": actor.ID}).Info("Loan decided")
	s.publish(ctx, ev)
	return loan, nil
}

// Disburse credits an approved loan to the member's savings account, builds
// the repayment schedule and locks the guarantor commitments in one commit.
func (s *Loans) Disburse(ctx context.Context, actor models.Actor, loanID string) (models.LoanApplication, models.Transaction, error) {
	if err := requireAdmin(actor, "disbursement"); err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}
	pre, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}
	acct, err := s.ledger.savingsAccount(ctx, pre.MemberID)
	if err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}

	rs := s.Rules.Current()
	release := s.Locks.LockAll(lock.Loan(loanID), lock.Account(acct.ID))
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}
	if loan.Status != models.LoanApproved {
		return models.LoanApplication{}, models.Transaction{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}
	acct, err = s.Store.GetAccount(ctx, acct.ID)
	if err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}

	now := s.Now()
	tx, err := s.ledger.entry(ctx, rs, &acct, PostRequest{
		AccountID: acct.ID,
		Amount:    loan.Amount,
		Type:      models.TxDisbursement,
		Method:    "loan",
		Reference: "disbursement:" + loan.ID,
	}, actor, now, false)
	postingsTotal.WithLabelValues(string(models.TxDisbursement), outcome(err)).Inc()
	if err != nil {
		s.Log.WithField("loan_id", loanID).Warnf("Disbursement rejected: %v", err)
		return models.LoanApplication{}, models.Transaction{}, err
	}
	acct.Version++

	loan.AccountID = acct.ID
	loan.DisbursedAt = &now
	loan.Version++
	loan.Schedule = BuildSchedule(loan.Amount, loan.Product.InterestRate, loan.DurationMonths, now.In(rs.Location))
	ev, err := transition(&loan, models.LoanActive, models.EventLoanDisbursed, actor, "", now)
	if err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}

	b := &repository.Batch{
		Accounts:     []models.Account{acct},
		Transactions: []models.Transaction{tx},
		Loans:        []models.LoanApplication{loan},
		CommitmentChanges: []repository.CommitmentChange{
			{LoanID: loan.ID, Status: models.CommitmentLocked, At: now},
		},
		Audit: []models.AuditEntry{auditEntry(actor, "loan.disburse", "loan", loan.ID, "", now)},
	}
	if err := s.Store.Commit(ctx, b); err != nil {
		return models.LoanApplication{}, models.Transaction{}, err
	}
	s.Log.WithFields(logrus.Fields{"loan_id": loan.ID, "account_id": acct.ID, "amount": loan.Amount.String()}).Info("Loan disbursed")
	s.publish(ctx, ev)
	return loan, tx, nil
}

// Repay debits the member's savings account and applies the amount to the
// loan.
func (s *Loans) Repay(ctx context.Context, actor models.Actor, loanID string, req RepaymentRequest) (RepaymentResult, error) {
	return s.repay(ctx, actor, loanID, req, decimal.Zero, nil, nil)
}

// repay optionally credits deposit to the loan account first, then posts the
// repayment. Extra lock keys are taken together with the loan and account
// locks; stage may add further changes to the same commit.
func (s *Loans) repay(ctx context.Context, actor models.Actor, loanID string, req RepaymentRequest, deposit decimal.Decimal,
	extraKeys []string, stage func(b *repository.Batch) error) (RepaymentResult, error) {
	if req.Method == "" {
		return RepaymentResult{}, apperr.Validation("method is required")
	}
	pre, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return RepaymentResult{}, err
	}
	if err := requireSelfOrAdmin(actor, pre.MemberID); err != nil {
		return RepaymentResult{}, err
	}
	if pre.AccountID == "" {
		return RepaymentResult{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, pre.Status)
	}

	rs := s.Rules.Current()
	keys := append([]string{lock.Loan(loanID), lock.Account(pre.AccountID), lock.Guarantor(pre.MemberID)}, extraKeys...)
	release := s.Locks.LockAll(keys...)
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return RepaymentResult{}, err
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
		return RepaymentResult{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}
	if !req.Amount.IsPositive() {
		return RepaymentResult{}, apperr.Validation("repayment must be positive")
	}
	if outstanding := loan.Outstanding(); req.Amount.GreaterThan(outstanding) {
		return RepaymentResult{}, apperr.Validation("repayment %s exceeds outstanding %s", req.Amount.StringFixed(2), outstanding.StringFixed(2))
	}
	acct, err := s.Store.GetAccount(ctx, loan.AccountID)
	if err != nil {
		return RepaymentResult{}, err
	}

	now := s.Now()
	var txs []models.Transaction
	repayRef := req.Reference
	if deposit.IsPositive() {
		dtx, err := s.ledger.entry(ctx, rs, &acct, PostRequest{
			AccountID: acct.ID,
			Amount:    deposit,
			Type:      models.TxDeposit,
			Method:    req.Method,
			Reference: req.Reference,
		}, actor, now, false)
		if err != nil {
			return RepaymentResult{}, err
		}
		txs = append(txs, dtx)
		if repayRef != "" {
			repayRef += "/repayment"
		}
	}
	rtx, err := s.ledger.entry(ctx, rs, &acct, PostRequest{
		AccountID: acct.ID,
		Amount:    req.Amount,
		Type:      models.TxRepayment,
		Method:    req.Method,
		Reference: repayRef,
		Reason:    "loan " + loan.ID,
	}, actor, now, false)
	postingsTotal.WithLabelValues(string(models.TxRepayment), outcome(err)).Inc()
	if err != nil {
		s.Log.WithField("loan_id", loanID).Warnf("Repayment rejected: %v", err)
		return RepaymentResult{}, err
	}
	txs = append(txs, rtx)
	acct.Version++

	applyPayment(&loan, req.Amount, now)
	b := &repository.Batch{}
	events, err := s.settle(b, rs, &loan, actor, now)
	if err != nil {
		return RepaymentResult{}, err
	}
	loan.UpdatedAt = now
	loan.Version++
	b.Accounts = append(b.Accounts, acct)
	b.Transactions = append(b.Transactions, txs...)
	b.Loans = append(b.Loans, loan)
	b.Audit = append(b.Audit, auditEntry(actor, "loan.repay", "loan", loan.ID, req.Amount.StringFixed(2), now))
	if stage != nil {
		if err := stage(b); err != nil {
			return RepaymentResult{}, err
		}
	}
	if err := s.Store.Commit(ctx, b); err != nil {
		return RepaymentResult{}, err
	}
	s.Log.WithFields(logrus.Fields{"loan_id": loan.ID, "amount": req.Amount.String(), "outstanding": loan.Outstanding().String()}).Info("Loan repayment applied")
	s.publish(ctx, events...)
	return RepaymentResult{Loan: loan, Transactions: txs}, nil
}

// settle closes a fully repaid loan or returns an overdue loan with nothing
// left past grace to Active.
func (s *Loans) settle(b *repository.Batch, rs *rules.RuleSet, loan *models.LoanApplication, actor models.Actor, now time.Time) ([]models.LoanEvent, error) {
	if !loan.Outstanding().IsPositive() {
		ev, err := transition(loan, models.LoanPaidOff, models.EventLoanPaidOff, actor, "", now)
		if err != nil {
			return nil, err
		}
		loan.ClosedAt = &now
		loan.MissedCycles = 0
		loan.PenaltyThrough = nil
		releaseCommitments(b, loan.ID, now)
		return []models.LoanEvent{ev}, nil
	}
	if loan.Status == models.LoanOverdue && missedInstallments(loan, now) == 0 {
		ev, err := transition(loan, models.LoanActive, models.EventLoanCaughtUp, actor, "", now)
		if err != nil {
			return nil, err
		}
		loan.MissedCycles = 0
		loan.PenaltyThrough = nil
		return []models.LoanEvent{ev}, nil
	}
	return nil, nil
}

// EvaluateDelinquency accrues penalties and moves loans between Active,
// Overdue and Defaulted as of asOf. Each loan commits on its own; failures
// are collected and the sweep continues.
func (s *Loans) EvaluateDelinquency(ctx context.Context, asOf time.Time) (DelinquencyReport, error) {
	report := DelinquencyReport{Penalty: decimal.Zero}
	loans, err := s.Store.ListLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	if err != nil {
		return report, err
	}
	rs := s.Rules.Current()
	var errs []error
	for _, l := range loans {
		report.Checked++
		if err := s.evaluate(ctx, rs, l.ID, asOf, &report); err != nil {
			s.Log.WithField("loan_id", l.ID).Errorf("Delinquency evaluation failed: %v", err)
			errs = append(errs, err)
		}
	}
	s.Log.WithFields(logrus.Fields{
		"checked": report.Checked, "overdue": report.Overdue, "caught_up": report.CaughtUp,
		"defaulted": report.Defaulted, "penalty": report.Penalty.String(),
	}).Info("Delinquency sweep finished")
	return report, errors.Join(errs...)
}

func (s *Loans) evaluate(ctx context.Context, rs *rules.RuleSet, loanID string, asOf time.Time, report *DelinquencyReport) error {
	release := s.Locks.Lock(lock.Loan(loanID))
	defer release()

	loan, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if (loan.Status != models.LoanActive && loan.Status != models.LoanOverdue) || loan.Product == nil {
		return nil
	}
	before := loan.Clone()
	actor := models.SystemActor

	penalty := accruePenalty(&loan, asOf)
	missed := 0
	for i := range loan.Schedule {
		inst := &loan.Schedule[i]
		if pastGrace(*inst, loan.Product.GracePeriodDays, asOf) {
			missed++
			inst.Missed = true
		}
	}
	loan.MissedCycles = missed

	b := &repository.Batch{}
	var events []models.LoanEvent
	step := func(to models.LoanStatus, typ models.LoanEventType, reason string) error {
		ev, err := transition(&loan, to, typ, actor, reason, asOf)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	}
	if missed > 0 && loan.Status == models.LoanActive {
		if err := step(models.LoanOverdue, models.EventLoanOverdue, "installment unpaid past grace period"); err != nil {
			return err
		}
		report.Overdue++
	}
	if missed == 0 && loan.Status == models.LoanOverdue {
		if err := step(models.LoanActive, models.EventLoanCaughtUp, ""); err != nil {
			return err
		}
		report.CaughtUp++
	}
	if loan.Status == models.LoanOverdue && missed >= rs.Loans.DefaultAfterMissedCycles {
		if err := step(models.LoanDefaulted, models.EventLoanDefaulted, "missed installment limit reached"); err != nil {
			return err
		}
		loan.ClosedAt = &asOf
		releaseCommitments(b, loan.ID, asOf)
		report.Defaulted++
	}

	if len(events) == 0 && !penalty.IsPositive() && !delinquencyChanged(before, loan) {
		return nil
	}
	report.Penalty = report.Penalty.Add(penalty)
	loan.Version++
	loan.UpdatedAt = asOf
	b.Loans = append(b.Loans, loan)
	b.Audit = append(b.Audit, auditEntry(actor, "loan.delinquency", "loan", loan.ID, "penalty "+penalty.StringFixed(2), asOf))
	if err := s.Store.Commit(ctx, b); err != nil {
		return err
	}
	s.publish(ctx, events...)
	return nil
}

func delinquencyChanged(before, after models.LoanApplication) bool {
	if before.MissedCycles != after.MissedCycles {
		return true
	}
	if (before.PenaltyThrough == nil) != (after.PenaltyThrough == nil) {
		return true
	}
	if before.PenaltyThrough != nil && !before.PenaltyThrough.Equal(*after.PenaltyThrough) {
		return true
	}
	for i := range before.Schedule {
		if before.Schedule[i].Missed != after.Schedule[i].Missed {
			return true
		}
	}
	return false
}

// Remind sends a reminder for every running loan whose next unpaid
// installment is overdue or due within the reminder window. It returns how
// many reminders were sent.
func (s *Loans) Remind(ctx context.Context, asOf time.Time, sender ReminderSender) (int, error) {
	rs := s.Rules.Current()
	loans, err := s.Store.ListLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	if err != nil {
		return 0, err
	}
	window := asOf.AddDate(0, 0, rs.Loans.ReminderDays)
	sent := 0
	for _, loan := range loans {
		var next *models.Installment
		for i := range loan.Schedule {
			if !loan.Schedule[i].Settled() {
				next = &loan.Schedule[i]
				break
			}
		}
		if next == nil || next.DueDate.After(window) {
			continue
		}
		member, err := s.Members.Member(ctx, loan.MemberID)
		if err != nil {
			s.Log.WithField("loan_id", loan.ID).Errorf("Failed to load member for reminder: %v", err)
			continue
		}
		if member.Email == "" {
			continue
		}
		overdue := next.DueDate.Before(asOf)
		penalty := loan.PenaltyAccrued.Sub(loan.PenaltyPaid)
		if err := sender.SendPaymentReminder(member.Email, member.Name, next.DueDate, next.Remaining(), penalty, rs.Ledger.Currency, overdue); err != nil {
			s.Log.WithField("loan_id", loan.ID).Errorf("Failed to send payment reminder: %v", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// History summarises a member's loans for eligibility scoring.
func (s *Loans) History(ctx context.Context, memberID string) (models.LoanHistory, error) {
	return s.scorer.History(ctx, memberID)
}

// transition moves loan along a legal edge and returns the event to publish
// after commit. The caller bumps the version once per commit.
func transition(loan *models.LoanApplication, to models.LoanStatus, typ models.LoanEventType, actor models.Actor, reason string, at time.Time) (models.LoanEvent, error) {
	from := loan.Status
	if !models.CanTransition(from, to) {
		return models.LoanEvent{}, apperr.New(apperr.KindStateConflict, "loan %s cannot move from %s to %s", loan.ID, from, to)
	}
	loan.Status = to
	loan.UpdatedAt = at
	return models.LoanEvent{
		ID:       newID(),
		Type:     typ,
		LoanID:   loan.ID,
		MemberID: loan.MemberID,
		Amount:   loan.Amount,
		Status:   to,
		Previous: from,
		ActorID:  actor.ID,
		Reason:   reason,
		At:       at,
	}, nil
}

func (s *Loans) publish(ctx context.Context, events ...models.LoanEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		loanTransitionsTotal.WithLabelValues(string(ev.Previous), string(ev.Status)).Inc()
		if err := s.events.Publish(ctx, ev); err != nil {
			s.Log.WithFields(logrus.Fields{"loan_id": ev.LoanID, "event": ev.Type}).Errorf("Failed to publish loan event: %v", err)
		}
	}
	s.cache.Invalidate(ctx, events[0].MemberID)
}
