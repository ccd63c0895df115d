package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Guarantors accounts for the capacity members pledge against other members'
// loans. Capacity is the guarantor's savings plus shares times the configured
// ratio; free capacity is capacity minus active commitments.
type Guarantors struct {
	Deps
	ledger *Ledger
}

// Capacity returns the total pledgeable amount of a guarantor.
func (g *Guarantors) Capacity(ctx context.Context, rs *rules.RuleSet, guarantorID string) (decimal.Decimal, error) {
	h, err := g.ledger.Holdings(ctx, guarantorID)
	if err != nil {
		return decimal.Zero, err
	}
	return h.Total().Mul(rs.Loans.GuarantorCapacityRatio).Round(2), nil
}

// FreeCapacity returns capacity not yet pledged to active commitments.
func (g *Guarantors) FreeCapacity(ctx context.Context, guarantorID string) (decimal.Decimal, error) {
	rs := g.Rules.Current()
	capacity, err := g.Capacity(ctx, rs, guarantorID)
	if err != nil {
		return decimal.Zero, err
	}
	used, err := g.used(ctx, guarantorID, "")
	if err != nil {
		return decimal.Zero, err
	}
	free := capacity.Sub(used)
	if free.IsNegative() {
		return decimal.Zero, nil
	}
	return free, nil
}

// used sums a guarantor's active commitments. It fails with Conflict when the
// guarantor already backs loanID.
func (g *Guarantors) used(ctx context.Context, guarantorID, loanID string) (decimal.Decimal, error) {
	commitments, err := g.Store.ListCommitmentsByGuarantor(ctx, guarantorID)
	if err != nil {
		return decimal.Zero, err
	}
	used := decimal.Zero
	for _, c := range commitments {
		if !c.Active() {
			continue
		}
		if loanID != "" && c.LoanID == loanID {
			return decimal.Zero, apperr.New(apperr.KindConflict, "guarantor %s already backs loan %s", guarantorID, loanID)
		}
		used = used.Add(c.CapacityUsed)
	}
	return used, nil
}

// reserve stages a commitment after checking free capacity. The caller holds
// the guarantor lock; the store re-checks capacity at commit.
func (g *Guarantors) reserve(ctx context.Context, rs *rules.RuleSet, b *repository.Batch, loanID, guarantorID string, amount decimal.Decimal, now time.Time) error {
	capacity, err := g.Capacity(ctx, rs, guarantorID)
	if err != nil {
		return err
	}
	used, err := g.used(ctx, guarantorID, loanID)
	if err != nil {
		return err
	}
	if used.Add(amount).GreaterThan(capacity) {
		return apperr.New(apperr.KindCapacityExceeded, "guarantor %s has %s free, %s requested",
			guarantorID, decimal.Max(capacity.Sub(used), decimal.Zero).StringFixed(2), amount.StringFixed(2))
	}
	b.Reservations = append(b.Reservations, repository.Reservation{
		Commitment: models.GuarantorCommitment{
			LoanID:       loanID,
			GuarantorID:  guarantorID,
			CapacityUsed: amount,
			Status:       models.CommitmentReserved,
			CreatedAt:    now,
		},
		Capacity: capacity,
	})
	return nil
}

// Commit pledges amount of a guarantor's capacity to a loan outside of the
// submission flow, e.g. when a replacement guarantor joins a running loan.
func (g *Guarantors) Commit(ctx context.Context, actor models.Actor, loanID, guarantorID string, amount decimal.Decimal) (models.GuarantorCommitment, error) {
	if err := requireAdmin(actor, "guarantor commitment"); err != nil {
		return models.GuarantorCommitment{}, err
	}
	if !amount.IsPositive() {
		return models.GuarantorCommitment{}, apperr.Validation("commitment must be positive")
	}

	rs := g.Rules.Current()
	release := g.Locks.LockAll(lock.Loan(loanID), lock.Guarantor(guarantorID))
	defer release()

	loan, err := g.Store.GetLoan(ctx, loanID)
	if err != nil {
		return models.GuarantorCommitment{}, err
	}
	if loan.Status.Terminal() {
		return models.GuarantorCommitment{}, apperr.New(apperr.KindStateConflict, "loan %s is %s", loanID, loan.Status)
	}
	if guarantorID == loan.MemberID {
		return models.GuarantorCommitment{}, apperr.Validation("applicant cannot guarantee own loan")
	}

	now := g.Now()
	b := &repository.Batch{}
	if err := g.reserve(ctx, rs, b, loanID, guarantorID, amount, now); err != nil {
		g.Log.WithFields(logrus.Fields{"loan_id": loanID, "guarantor_id": guarantorID}).Warnf("Commitment rejected: %v", err)
		return models.GuarantorCommitment{}, err
	}
	b.Audit = append(b.Audit, auditEntry(actor, "guarantor.commit", "loan", loanID, guarantorID, now))
	if err := g.Store.Commit(ctx, b); err != nil {
		return models.GuarantorCommitment{}, err
	}
	g.Log.WithFields(logrus.Fields{"loan_id": loanID, "guarantor_id": guarantorID, "amount": amount.String()}).Info("Guarantor capacity committed")
	return b.Reservations[0].Commitment, nil
}

// Release frees every commitment of a resolved loan.
func (g *Guarantors) Release(ctx context.Context, actor models.Actor, loanID string) error {
	if err := requireAdmin(actor, "guarantor release"); err != nil {
		return err
	}
	release := g.Locks.Lock(lock.Loan(loanID))
	defer release()

	loan, err := g.Store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if !loan.Status.Terminal() {
		return apperr.New(apperr.KindStateConflict, "loan %s is still %s", loanID, loan.Status)
	}
	now := g.Now()
	b := &repository.Batch{}
	releaseCommitments(b, loanID, now)
	b.Audit = append(b.Audit, auditEntry(actor, "guarantor.release", "loan", loanID, "", now))
	if err := g.Store.Commit(ctx, b); err != nil {
		return err
	}
	g.Log.WithField("loan_id", loanID).Info("Guarantor commitments released")
	return nil
}

// Commitments lists a guarantor's commitments.
func (g *Guarantors) Commitments(ctx context.Context, guarantorID string) ([]models.GuarantorCommitment, error) {
	return g.Store.ListCommitmentsByGuarantor(ctx, guarantorID)
}

func releaseCommitments(b *repository.Batch, loanID string, at time.Time) {
	b.CommitmentChanges = append(b.CommitmentChanges, repository.CommitmentChange{
		LoanID: loanID,
		Status: models.CommitmentReleased,
		At:     at,
	})
}

// splitCommitment divides a loan amount equally between n guarantors in
// whole cents; the first guarantor carries the remainder.
func splitCommitment(amount decimal.Decimal, n int) []decimal.Decimal {
	if n == 0 {
		return nil
	}
	share := amount.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = share
	}
	out[0] = amount.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return out
}
