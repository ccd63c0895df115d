package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/rules"
)

func TestComputeDeduction(t *testing.T) {
	r := rules.Default().Repayment

	tests := []struct {
		name        string
		royalty     string
		outstanding string
		percent     string
		want        string
		err         error
	}{
		{"share of royalty", "100000", "500000", "50", "50000", nil},
		{"capped at outstanding", "100000", "10000", "50", "10000", nil},
		{"protected minimum payout", "30000", "500000", "50", "", apperr.ErrLimitExceeded},
		{"no royalty", "0", "500000", "30", "", apperr.ErrInsufficientFunds},
		{"deduction above royalty", "100000", "500000", "150", "", apperr.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeDeduction(r, dec(tt.royalty), dec(tt.outstanding), dec(tt.percent))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}

func TestOptIn(t *testing.T) {
	f := newFixture(t)
	loan, _ := f.activeLoan(t)

	_, err := f.svc.Repayments.OptIn(ctx, as("m1"), "m1", loan.ID, dec("60"))
	require.ErrorIs(t, err, apperr.ErrValidation, "above maximum percent")
	_, err = f.svc.Repayments.OptIn(ctx, as("g1"), "m1", loan.ID, dec("30"))
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Repayments.OptIn(ctx, as("g1"), "g1", loan.ID, dec("30"))
	require.ErrorIs(t, err, apperr.ErrValidation, "someone else's loan")

	m, err := f.svc.Repayments.OptIn(ctx, as("m1"), "m1", loan.ID, dec("30"))
	require.NoError(t, err)
	assert.True(t, m.Active)
	assert.Equal(t, int64(1), m.Version)

	m, err = f.svc.Repayments.OptOut(ctx, as("m1"), "m1")
	require.NoError(t, err)
	assert.False(t, m.Active)

	_, err = f.svc.Repayments.Process(ctx, "m1", "2026-01")
	require.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestProcessRoyaltyDeduction(t *testing.T) {
	f := newFixture(t)
	loan, acct := f.activeLoan(t)
	f.sources["music"].Set("m1", 40000, 100, dec("200000"))

	_, err := f.svc.Repayments.OptIn(ctx, as("m1"), "m1", loan.ID, dec("30"))
	require.NoError(t, err)

	res, err := f.svc.Repayments.Process(ctx, "m1", "2026-01")
	require.NoError(t, err)
	assert.True(t, res.Deduction.Equal(dec("60000")))
	assert.True(t, res.Payout.Equal(dec("140000")))
	assert.Equal(t, models.LoanActive, res.Status)

	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Outstanding().Equal(dec("356000")))
	assert.True(t, f.balance(t, acct.ID).Equal(dec("600000")), "royalty deposit funds the repayment")

	txs, err := f.svc.Ledger.ListTransactions(ctx, models.TransactionFilter{AccountID: acct.ID, Method: "royalty"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TxRepayment, txs[0].Type)
	assert.Equal(t, "royalty:2026-01:"+loan.ID+"/repayment", txs[0].Reference)
	assert.Equal(t, models.TxDeposit, txs[1].Type)

	m, err := f.svc.Repayments.Mandate(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01", m.LastProcessedPeriod)

	_, err = f.svc.Repayments.Process(ctx, "m1", "2026-01")
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
}

func TestProcessBelowProtectedMinimumChangesNothing(t *testing.T) {
	f := newFixture(t)
	loan, acct := f.activeLoan(t)
	f.sources["podcast"].Set("m1", 900, 0, dec("25000"))

	_, err := f.svc.Repayments.OptIn(ctx, as("m1"), "m1", loan.ID, dec("50"))
	require.NoError(t, err)

	_, err = f.svc.Repayments.Process(ctx, "m1", "2026-01")
	require.ErrorIs(t, err, apperr.ErrLimitExceeded)

	got, err := f.svc.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Outstanding().Equal(dec("416000")))
	assert.True(t, f.balance(t, acct.ID).Equal(dec("600000")))
	m, err := f.svc.Repayments.Mandate(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, m.LastProcessedPeriod)
}

func TestProcessAll(t *testing.T) {
	f := newFixture(t)
	loan, _ := f.activeLoan(t)
	f.sources["store"].Set("m1", 0, 80, dec("100000"))
	_, err := f.svc.Repayments.OptIn(ctx, as("m1"), "m1", loan.ID, dec("20"))
	require.NoError(t, err)

	summary, err := f.svc.Repayments.ProcessAll(ctx, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.True(t, summary.Deducted.Equal(dec("20000")))

	summary, err = f.svc.Repayments.ProcessAll(ctx, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}
