package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

func TestSubmitWithTooFewGuarantorsReservesNothing(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1")

	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.ErrorIs(t, err, apperr.ErrValidation)

	commitments, err := f.svc.Guarantors.Commitments(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, commitments)
	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanDraft, got.Status)
}

func TestSubmitReservesGuarantorCapacity(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")

	submitted, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanPendingApproval, submitted.Status)
	require.NotNil(t, submitted.Product)
	assert.Equal(t, 1, submitted.Product.Version)

	for _, g := range []string{"g1", "g2"} {
		free, err := f.svc.Guarantors.FreeCapacity(ctx, g)
		require.NoError(t, err)
		assert.True(t, free.Equal(dec("100000")), "%s free %s", g, free)
	}
	commitments, err := f.svc.Loans.Commitments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, commitments, 2)
	for _, c := range commitments {
		assert.Equal(t, models.CommitmentReserved, c.Status)
		assert.True(t, c.CapacityUsed.Equal(dec("200000")))
	}
	assert.Equal(t, []models.LoanEventType{models.EventLoanSubmitted}, f.events.types())

	// the snapshot is not affected by a later product version
	f.publish(t, func(p *models.LoanProduct) { p.InterestRate = dec("20") })
	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Product.InterestRate.Equal(dec("12")))
}

func TestSubmitRules(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		months     int
		guarantors []string
		want       error
	}{
		{"amount above product maximum", "6000000", 4, []string{"g1", "g2"}, apperr.ErrValidation},
		{"amount below product minimum", "50000", 4, []string{"g1", "g2"}, apperr.ErrValidation},
		{"duration too long", "400000", 13, []string{"g1", "g2"}, apperr.ErrValidation},
		{"duplicate guarantor", "400000", 4, []string{"g1", "g1"}, apperr.ErrValidation},
		{"applicant as guarantor", "400000", 4, []string{"g1", "m1"}, apperr.ErrValidation},
		{"unknown guarantor", "400000", 4, []string{"g1", "ghost"}, apperr.ErrValidation},
		{"loan to savings ratio", "700000", 4, []string{"g1", "g2"}, apperr.ErrNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.borrower(t)
			loan := f.draft(t, "m1", "boost", tt.amount, tt.months, tt.guarantors...)
			_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
			require.ErrorIs(t, err, tt.want)

			commitments, err := f.svc.Loans.Commitments(ctx, loan.ID)
			require.NoError(t, err)
			assert.Empty(t, commitments)
		})
	}
}

func TestSubmitFailsWholeWhenOneGuarantorIsShort(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1", "g1", "g2")
	f.openSavings(t, "m1", "200000")
	f.openSavings(t, "g1", "300000")
	f.openSavings(t, "g2", "100000")
	f.publish(t, nil)

	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	free, err := f.svc.Guarantors.FreeCapacity(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, free.Equal(dec("300000")))
}

func TestSubmitRequiresCollateral(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	f.publish(t, func(p *models.LoanProduct) {
		p.ID = "equipment"
		p.RequiresCollateral = true
	})

	loan := f.draft(t, "m1", "equipment", "300000", 6, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Loans.UpdateDraft(ctx, as("m1"), loan.ID, DraftRequest{
		ProductID:      "equipment",
		Amount:         dec("300000"),
		DurationMonths: 6,
		GuarantorIDs:   []string{"g1", "g2"},
		Collateral:     &models.Collateral{Description: "mixing desk", Value: dec("900000"), Documents: []string{"receipt.pdf"}},
	})
	require.NoError(t, err)
	_, err = f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)
}

func TestSubmitEnforcesConcurrentLoanLimit(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	first := f.draft(t, "m1", "boost", "200000", 4, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), first.ID)
	require.NoError(t, err)

	second := f.draft(t, "m1", "boost", "100000", 4, "g1", "g2")
	_, err = f.svc.Loans.Submit(ctx, as("m1"), second.ID)
	require.ErrorIs(t, err, apperr.ErrNotEligible)
}

func TestSubmitRejectsInactiveMember(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "200000", 4, "g1", "g2")
	f.members.Put(models.Member{ID: "m1", Status: models.MemberSuspended})

	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.ErrorIs(t, err, apperr.ErrNotEligible)
}

func TestConcurrentSubmissionsNeverOvercommitGuarantor(t *testing.T) {
	f := newFixture(t)
	f.addMembers("g")
	f.openSavings(t, "g", "300000")
	f.publish(t, func(p *models.LoanProduct) {
		p.MinGuarantors = 1
	})

	const n = 5
	loans := make([]models.LoanApplication, n)
	for i := range loans {
		id := fmt.Sprintf("a%d", i)
		f.addMembers(id)
		f.openSavings(t, id, "100000")
		loans[i] = f.draft(t, id, "boost", "200000", 4, "g")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range loans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Loans.Submit(ctx, as(loans[i].MemberID), loans[i].ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, ok)

	commitments, err := f.svc.Guarantors.Commitments(ctx, "g")
	require.NoError(t, err)
	used := dec("0")
	for _, c := range commitments {
		if c.Active() {
			used = used.Add(c.CapacityUsed)
		}
	}
	assert.True(t, used.LessThanOrEqual(dec("300000")))
}

func TestDecide(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")

	_, err := f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t0"})
	require.ErrorIs(t, err, apperr.ErrConflict, "draft cannot be decided")

	_, err = f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)

	_, err = f.svc.Loans.Decide(ctx, as("m1"), loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t1"})
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Loans.Decide(ctx, models.Actor{ID: "m1", Role: models.RoleAdmin}, loan.ID,
		DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t1"})
	require.ErrorIs(t, err, apperr.ErrForbidden, "self approval")

	approved, err := f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t1"})
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, approved.Status)
	require.NotNil(t, approved.Decision)
	assert.Equal(t, admin.ID, approved.Decision.ActorID)

	_, err = f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t1"})
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)

	_, err = f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: false, ExpectedStatus: models.LoanPendingApproval, Token: "t2"})
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	require.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestApproveAfterRejectFails(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)

	rejected, err := f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{
		Approve: false, ExpectedStatus: models.LoanPendingApproval, Token: "r1", Reason: "incomplete budget",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LoanRejected, rejected.Status)

	free, err := f.svc.Guarantors.FreeCapacity(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, free.Equal(dec("300000")), "rejection releases commitments")

	_, err = f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "a1"})
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanRejected, got.Status)
	assert.Equal(t, []models.LoanEventType{models.EventLoanSubmitted, models.EventLoanRejected}, f.events.types())
}

func TestDisburse(t *testing.T) {
	f := newFixture(t)
	loan, acct := f.activeLoan(t)

	assert.Equal(t, models.LoanActive, loan.Status)
	assert.Equal(t, acct.ID, loan.AccountID)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("600000")))

	require.Len(t, loan.Schedule, 4)
	for i, inst := range loan.Schedule {
		assert.True(t, inst.Amount.Equal(dec("104000")), "installment %d", i+1)
		assert.Equal(t, epoch.AddDate(0, i+1, 0), inst.DueDate)
	}
	assert.True(t, loan.Outstanding().Equal(dec("416000")))

	txs, err := f.svc.Ledger.ListTransactions(ctx, models.TransactionFilter{AccountID: acct.ID, Type: models.TxDisbursement})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "disbursement:"+loan.ID, txs[0].Reference)

	commitments, err := f.svc.Loans.Commitments(ctx, loan.ID)
	require.NoError(t, err)
	for _, c := range commitments {
		assert.Equal(t, models.CommitmentLocked, c.Status)
	}

	_, _, err = f.svc.Loans.Disburse(ctx, admin, loan.ID)
	require.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestDisburseToFrozenAccountChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)
	_, err = f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "t"})
	require.NoError(t, err)

	accounts, err := f.svc.Ledger.Accounts(ctx, "m1")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Freeze(ctx, admin, accounts[0].ID, "investigation")
	require.NoError(t, err)

	_, _, err = f.svc.Loans.Disburse(ctx, admin, loan.ID)
	require.ErrorIs(t, err, apperr.ErrAccountInactive)
	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, got.Status)
	assert.Empty(t, got.Schedule)
}

func TestRepayToPaidOff(t *testing.T) {
	f := newFixture(t)
	loan, acct := f.activeLoan(t)

	_, err := f.svc.Loans.Repay(ctx, as("m1"), loan.ID, RepaymentRequest{Amount: dec("500000"), Method: "savings"})
	require.ErrorIs(t, err, apperr.ErrValidation, "overpayment")

	res, err := f.svc.Loans.Repay(ctx, as("m1"), loan.ID, RepaymentRequest{Amount: dec("104000"), Method: "savings"})
	require.NoError(t, err)
	assert.True(t, res.Loan.Schedule[0].Settled())
	assert.Equal(t, models.LoanActive, res.Loan.Status)

	res, err = f.svc.Loans.Repay(ctx, as("m1"), loan.ID, RepaymentRequest{Amount: dec("312000"), Method: "savings"})
	require.NoError(t, err)
	assert.Equal(t, models.LoanPaidOff, res.Loan.Status)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("184000")))

	free, err := f.svc.Guarantors.FreeCapacity(ctx, "g2")
	require.NoError(t, err)
	assert.True(t, free.Equal(dec("300000")))

	history, err := f.svc.Loans.History(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, history.PaidOff)

	_, err = f.svc.Loans.Repay(ctx, as("m1"), loan.ID, RepaymentRequest{Amount: dec("1000"), Method: "savings"})
	require.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestDelinquencyLifecycle(t *testing.T) {
	f := newFixture(t)
	loan, _ := f.activeLoan(t)

	// within grace nothing changes
	report, err := f.svc.Loans.EvaluateDelinquency(ctx, epoch.AddDate(0, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Overdue)

	asOf := time.Date(2026, time.February, 25, 10, 0, 0, 0, time.UTC)
	report, err = f.svc.Loans.EvaluateDelinquency(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Overdue)
	assert.True(t, report.Penalty.Equal(dec("300")), "3 days at 0.1%% of 100,000, got %s", report.Penalty)

	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanOverdue, got.Status)
	assert.Equal(t, 1, got.MissedCycles)

	// an overdue member cannot borrow again
	second := f.draft(t, "m1", "boost", "100000", 2, "g1", "g2")
	_, err = f.svc.Loans.Submit(ctx, as("m1"), second.ID)
	require.ErrorIs(t, err, apperr.ErrNotEligible)

	// paying penalty and the missed installment catches up
	f.clock.Set(asOf)
	res, err := f.svc.Loans.Repay(ctx, as("m1"), loan.ID, RepaymentRequest{Amount: dec("104300"), Method: "savings"})
	require.NoError(t, err)
	assert.Equal(t, models.LoanActive, res.Loan.Status)
	assert.True(t, res.Loan.PenaltyPaid.Equal(dec("300")))

	// three more missed installments default the loan
	asOf = time.Date(2026, time.May, 25, 10, 0, 0, 0, time.UTC)
	report, err = f.svc.Loans.EvaluateDelinquency(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Overdue)
	assert.Equal(t, 1, report.Defaulted)
	assert.True(t, report.Penalty.Equal(dec("19200")), "64 days at 0.1%% of 300,000, got %s", report.Penalty)

	got, err = f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanDefaulted, got.Status)
	assert.Equal(t, 3, got.MissedCycles)

	free, err := f.svc.Guarantors.FreeCapacity(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, free.Equal(dec("300000")))

	assert.Equal(t, []models.LoanEventType{
		models.EventLoanSubmitted, models.EventLoanApproved, models.EventLoanDisbursed,
		models.EventLoanOverdue, models.EventLoanCaughtUp,
		models.EventLoanOverdue, models.EventLoanDefaulted,
	}, f.events.types())
}

type reminderSink struct {
	sent    []string
	overdue []bool
}

func (r *reminderSink) SendPaymentReminder(to, _ string, _ time.Time, _, _ decimal.Decimal, _ string, overdue bool) error {
	r.sent = append(r.sent, to)
	r.overdue = append(r.overdue, overdue)
	return nil
}

func TestRemind(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t)
	sink := &reminderSink{}

	sent, err := f.svc.Loans.Remind(ctx, epoch, sink)
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = f.svc.Loans.Remind(ctx, time.Date(2026, time.February, 13, 8, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = f.svc.Loans.Remind(ctx, time.Date(2026, time.February, 16, 8, 0, 0, 0, time.UTC), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	assert.Equal(t, []string{"m1@example.com", "m1@example.com"}, sink.sent)
	assert.Equal(t, []bool{false, true}, sink.overdue)
}

func TestUpdateDraftOnlyWhileDraft(t *testing.T) {
	f := newFixture(t)
	f.borrower(t)
	loan := f.draft(t, "m1", "boost", "200000", 4, "g1", "g2")

	_, err := f.svc.Loans.UpdateDraft(ctx, as("g1"), loan.ID, DraftRequest{ProductID: "boost", Amount: dec("1"), DurationMonths: 1})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)
	_, err = f.svc.Loans.UpdateDraft(ctx, as("m1"), loan.ID, DraftRequest{ProductID: "boost", Amount: dec("300000"), DurationMonths: 4})
	require.ErrorIs(t, err, apperr.ErrStateConflict)
}
