package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/rules"
)

func TestWithdrawalKeepsMinimumBalance(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "500000")

	tx, err := f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("490000"), "mobile_money", "")
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.Equal(dec("10000")))
	assert.True(t, tx.Amount.Equal(dec("-490000")))

	_, err = f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("20000"), "mobile_money", "")
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("10000")))

	bal, err := f.svc.Ledger.GetBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec("5000")))
}

func TestPostRecordsSignedEntry(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "0")

	tx, err := f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("25000.50"), "mobile_money", "mm-1")
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.Equal(dec("25000.50")))
	assert.Equal(t, "m1", tx.ActorID)

	stored, err := f.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Signature, stored.Signature)

	ok, err := f.svc.Ledger.VerifyTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	history, err := f.svc.Ledger.ListTransactions(ctx, models.TransactionFilter{AccountID: acct.ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tx.ID, history[0].ID)
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1", "m2")
	acct := f.openSavings(t, "m1", "100000")

	tests := []struct {
		name  string
		actor models.Actor
		req   PostRequest
		want  error
	}{
		{"zero amount", as("m1"), PostRequest{Amount: dec("0"), Type: models.TxDeposit, Method: "bank"}, apperr.ErrValidation},
		{"sub-cent amount", as("m1"), PostRequest{Amount: dec("1000.001"), Type: models.TxDeposit, Method: "bank"}, apperr.ErrValidation},
		{"below minimum deposit", as("m1"), PostRequest{Amount: dec("500"), Type: models.TxDeposit, Method: "bank"}, apperr.ErrValidation},
		{"above maximum deposit", as("m1"), PostRequest{Amount: dec("60000000"), Type: models.TxDeposit, Method: "bank"}, apperr.ErrLimitExceeded},
		{"missing method", as("m1"), PostRequest{Amount: dec("5000"), Type: models.TxDeposit}, apperr.ErrValidation},
		{"disbursement not postable", admin, PostRequest{Amount: dec("5000"), Type: models.TxDisbursement, Method: "loan"}, apperr.ErrValidation},
		{"dividend needs admin", as("m1"), PostRequest{Amount: dec("5000"), Type: models.TxDividend, Method: "bank"}, apperr.ErrForbidden},
		{"other member's account", as("m2"), PostRequest{Amount: dec("5000"), Type: models.TxDeposit, Method: "bank"}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.AccountID = acct.ID
			_, err := f.svc.Ledger.Post(ctx, tt.actor, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, f.balance(t, acct.ID).Equal(dec("100000")))
		})
	}
}

func TestConcurrentWithdrawalsNeverBreachMinimum(t *testing.T) {
	f := newFixture(t, func(rs *rules.RuleSet) { rs.Ledger.MaxDailyWithdrawals = 100 })
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "105000")

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("15000"), "mobile_money", "")
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindInsufficientFunds:
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 6, ok)
	assert.Equal(t, 4, insufficient)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("15000")))
}

func TestDailyWithdrawalCount(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "1000000")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("10000"), "bank", "")
		require.NoError(t, err)
	}
	_, err := f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("10000"), "bank", "")
	require.ErrorIs(t, err, apperr.ErrLimitExceeded)

	f.clock.Set(epoch.AddDate(0, 0, 1))
	_, err = f.svc.Ledger.Withdraw(ctx, as("m1"), acct.ID, dec("10000"), "bank", "")
	require.NoError(t, err)
}

func TestMethodDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "0")

	_, err := f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("3000000"), "mobile_money", "")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("2500000"), "mobile_money", "")
	require.ErrorIs(t, err, apperr.ErrLimitExceeded)

	// other methods are unaffected
	_, err = f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("2500000"), "bank", "")
	require.NoError(t, err)
}

func TestReferenceIsPostedOnce(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "0")

	_, err := f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("20000"), "mobile_money", "MP-778")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("20000"), "mobile_money", "MP-778")
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("20000")))
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "10000")
	dep, err := f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("40000"), "bank", "")
	require.NoError(t, err)

	_, err = f.svc.Ledger.Reverse(ctx, as("m1"), dep.ID, "duplicate")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Ledger.Reverse(ctx, admin, dep.ID, "")
	require.ErrorIs(t, err, apperr.ErrValidation)

	rev, err := f.svc.Ledger.Reverse(ctx, admin, dep.ID, "duplicate callback")
	require.NoError(t, err)
	assert.Equal(t, models.TxReversal, rev.Type)
	assert.Equal(t, dep.ID, rev.ReversalOf)
	assert.True(t, rev.Amount.Equal(dec("-40000")))
	assert.True(t, f.balance(t, acct.ID).Equal(dec("10000")))

	_, err = f.svc.Ledger.Reverse(ctx, admin, dep.ID, "again")
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)

	audit, err := f.store.ListAudit(ctx, "transaction", dep.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "duplicate callback", audit[0].Reason)
}

func TestReverseKeepsMinimumBalance(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "0")
	dep, err := f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("40000"), "bank", "")
	require.NoError(t, err)

	_, err = f.svc.Ledger.Reverse(ctx, admin, dep.ID, "bounced")
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, f.balance(t, acct.ID).Equal(dec("40000")))

	history, err := f.svc.Ledger.ListTransactions(ctx, models.TransactionFilter{AccountID: acct.ID, Type: models.TxReversal})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAccountAdministration(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	acct := f.openSavings(t, "m1", "10000")

	_, err := f.svc.Ledger.OpenAccount(ctx, as("m1"), "m1", models.AccountSavings)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Ledger.Freeze(ctx, admin, acct.ID, "kyc review")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Deposit(ctx, as("m1"), acct.ID, dec("5000"), "bank", "")
	require.ErrorIs(t, err, apperr.ErrAccountInactive)
	_, err = f.svc.Ledger.Freeze(ctx, admin, acct.ID, "again")
	require.ErrorIs(t, err, apperr.ErrStateConflict)

	_, err = f.svc.Ledger.Close(ctx, admin, acct.ID, "exit")
	require.ErrorIs(t, err, apperr.ErrStateConflict, "non-zero balance")

	_, err = f.svc.Ledger.Unfreeze(ctx, admin, acct.ID, "cleared")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Withdraw(ctx, admin, acct.ID, dec("5000"), "bank", "")
	require.NoError(t, err)
}

func TestHoldingsIgnoreClosedAccounts(t *testing.T) {
	f := newFixture(t)
	f.addMembers("m1")
	f.openSavings(t, "m1", "120000")
	shares, err := f.svc.Ledger.OpenAccount(ctx, admin, "m1", models.AccountShares)
	require.NoError(t, err)
	_, err = f.svc.Ledger.Deposit(ctx, admin, shares.ID, dec("30000"), "bank", fmt.Sprintf("shares-%s", shares.ID))
	require.NoError(t, err)

	h, err := f.svc.Ledger.Holdings(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, h.Savings.Equal(dec("120000")))
	assert.True(t, h.Shares.Equal(dec("30000")))
}
