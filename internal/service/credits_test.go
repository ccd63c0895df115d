package service

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/rules"
)

func TestListeningCapClampsPlays(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Credits.EarnForActivity(ctx, "u1", "listening", 120)
	require.NoError(t, err)
	assert.True(t, res.Requested.Equal(dec("60")))
	assert.True(t, res.Credited.Equal(dec("50")))
	assert.True(t, res.Wallet.Balance.Equal(dec("50")))

	res, err = f.svc.Credits.EarnForActivity(ctx, "u1", "listening", 10)
	require.NoError(t, err)
	assert.True(t, res.Credited.IsZero())

	history, err := f.svc.Credits.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "a zero credit writes nothing")

	f.clock.Set(epoch.AddDate(0, 0, 1))
	res, err = f.svc.Credits.EarnForActivity(ctx, "u1", "listening", 10)
	require.NoError(t, err)
	assert.True(t, res.Credited.Equal(dec("5")))
	assert.True(t, res.Wallet.Balance.Equal(dec("55")))
	assert.True(t, res.Wallet.EarnedToday.Equal(dec("5")))
}

func TestEarnValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Credits.Earn(ctx, "u1", "gambling", dec("5"))
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Credits.Earn(ctx, "u1", "social", dec("-1"))
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestOverallDailyEarnCap(t *testing.T) {
	f := newFixture(t, func(rs *rules.RuleSet) { rs.Credits.DailyEarnCap = dec("60") })

	res, err := f.svc.Credits.Earn(ctx, "u1", "listening", dec("50"))
	require.NoError(t, err)
	assert.True(t, res.Credited.Equal(dec("50")))
	res, err = f.svc.Credits.Earn(ctx, "u1", "social", dec("30"))
	require.NoError(t, err)
	assert.True(t, res.Credited.Equal(dec("10")))
}

func TestConcurrentEarningNeverExceedsCap(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	credited := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Credits.Earn(ctx, "u1", "social", dec("4"))
			if err == nil {
				credited[i] = res.Credited
			}
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, c := range credited {
		total = total.Add(c)
	}
	assert.True(t, total.Equal(dec("30")), "credited %s", total)
	w, err := f.svc.Credits.Wallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("30")))
	assert.True(t, w.EarnedByCategory["social"].Equal(dec("30")))
}

func TestSpend(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Credits.Earn(ctx, "u1", "upload", dec("40"))
	require.NoError(t, err)

	_, err = f.svc.Credits.Spend(ctx, "u1", dec("41"), "promo slot")
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	w, err := f.svc.Credits.Spend(ctx, "u1", dec("15"), "promo slot")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("25")))

	history, err := f.svc.Credits.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.CreditSpend, history[0].Type)
	assert.True(t, history[0].Amount.Equal(dec("-15")))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	f.addMembers("alice", "bob")
	_, err := f.svc.Credits.Earn(ctx, "alice", "upload", dec("40"))
	require.NoError(t, err)

	t.Run("self transfer", func(t *testing.T) {
		_, err := f.svc.Credits.Transfer(ctx, "alice", "alice", dec("5"), "")
		require.ErrorIs(t, err, apperr.ErrSelfTransfer)
	})

	t.Run("insufficient funds changes nothing", func(t *testing.T) {
		_, err := f.svc.Credits.Transfer(ctx, "alice", "bob", dec("100"), "thanks")
		require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

		a, err := f.svc.Credits.Wallet(ctx, "alice")
		require.NoError(t, err)
		b, err := f.svc.Credits.Wallet(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(dec("40")))
		assert.True(t, b.Balance.IsZero())
	})

	t.Run("success moves exactly amount", func(t *testing.T) {
		from, err := f.svc.Credits.Transfer(ctx, "alice", "bob", dec("12.5"), "for the feature")
		require.NoError(t, err)
		assert.True(t, from.Balance.Equal(dec("27.5")))

		b, err := f.svc.Credits.Wallet(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(dec("12.5")))

		in, err := f.svc.Credits.History(ctx, "bob", 1)
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, models.CreditTransferIn, in[0].Type)
		assert.Equal(t, "alice", in[0].RelatedUserID)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, err := f.svc.Credits.Transfer(ctx, "alice", "nobody", dec("1"), "")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestOpposingTransfersConserveCredits(t *testing.T) {
	f := newFixture(t)
	f.addMembers("alice", "bob")
	for _, u := range []string{"alice", "bob"} {
		_, err := f.svc.Credits.Earn(ctx, u, "upload", dec("40"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Credits.Transfer(ctx, "alice", "bob", dec("3"), "")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Credits.Transfer(ctx, "bob", "alice", dec("2"), "")
		}()
	}
	wg.Wait()

	a, err := f.svc.Credits.Wallet(ctx, "alice")
	require.NoError(t, err)
	b, err := f.svc.Credits.Wallet(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, a.Balance.Add(b.Balance).Equal(dec("80")))
	assert.False(t, a.Balance.IsNegative())
	assert.False(t, b.Balance.IsNegative())
}

func TestDailyBonusOncePerDay(t *testing.T) {
	f := newFixture(t)

	w, err := f.svc.Credits.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("5")))

	_, err = f.svc.Credits.ClaimDailyBonus(ctx, "u1")
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)

	f.clock.Set(epoch.AddDate(0, 0, 1))
	w, err = f.svc.Credits.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("10")))
}
