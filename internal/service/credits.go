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
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Credits is the platform credit wallet and rewards engine.
type Credits struct {
	Deps
}

// EarnResult reports how much of an earn request was actually credited.
type EarnResult struct {
	Requested decimal.Decimal     `json:"requested"`
	Credited  decimal.Decimal     `json:"credited"`
	Wallet    models.CreditWallet `json:"wallet"`
}

// Wallet returns a user's wallet, or an empty one if the user never earned.
func (c *Credits) Wallet(ctx context.Context, userID string) (models.CreditWallet, error) {
	w, err := c.Store.GetWallet(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		rs := c.Rules.Current()
		return newWallet(userID, rs.Day(c.Now()), c.Now()), nil
	}
	return w, err
}

// History lists a user's credit movements, newest first.
func (c *Credits) History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	return c.Store.ListCreditTransactions(ctx, userID, limit)
}

// Earn credits up to amount in category, clamped to what is left of the
// category's daily cap and of the overall daily cap. The credited amount may
// be zero, in which case nothing is written.
func (c *Credits) Earn(ctx context.Context, userID, category string, amount decimal.Decimal) (EarnResult, error) {
	if userID == "" {
		return EarnResult{}, apperr.Validation("user id is required")
	}
	if !amount.IsPositive() {
		return EarnResult{}, apperr.Validation("amount must be positive")
	}
	rs := c.Rules.Current()
	limit, ok := rs.CategoryCap(category)
	if !ok {
		return EarnResult{}, apperr.Validation("unknown credit category %q", category)
	}

	release := c.Locks.Lock(lock.Wallet(userID))
	defer release()

	now := c.Now()
	w, err := c.load(ctx, rs, userID, now)
	if err != nil {
		return EarnResult{}, err
	}

	left := limit.Sub(w.EarnedByCategory[category])
	if rs.Credits.DailyEarnCap.IsPositive() {
		left = decimal.Min(left, rs.Credits.DailyEarnCap.Sub(w.EarnedToday))
	}
	credited := decimal.Max(decimal.Min(amount, left), decimal.Zero).Round(2)
	res := EarnResult{Requested: amount, Credited: credited, Wallet: w}
	if credited.IsZero() {
		c.Log.WithFields(logrus.Fields{"user_id": userID, "category": category}).Debug("Daily credit cap reached")
		return res, nil
	}

	w.Balance = w.Balance.Add(credited)
	w.EarnedToday = w.EarnedToday.Add(credited)
	w.EarnedByCategory[category] = w.EarnedByCategory[category].Add(credited)
	w.UpdatedAt = now
	w.Version++
	b := &repository.Batch{
		Wallets: []models.CreditWallet{w},
		CreditTransactions: []models.CreditTransaction{{
			ID:           newID(),
			UserID:       userID,
			Type:         models.CreditEarn,
			Amount:       credited,
			BalanceAfter: w.Balance,
			Category:     category,
			CreatedAt:    now,
		}},
	}
	if err := c.Store.Commit(ctx, b); err != nil {
		return EarnResult{}, err
	}
	creditsEarnedTotal.WithLabelValues(category).Add(credited.InexactFloat64())
	res.Wallet = w
	return res, nil
}

// EarnForActivity converts an activity count into credits at the category's
// rate, e.g. half a credit per play, and earns them.
func (c *Credits) EarnForActivity(ctx context.Context, userID, category string, count int) (EarnResult, error) {
	if count <= 0 {
		return EarnResult{}, apperr.Validation("activity count must be positive")
	}
	rate := c.Rules.Current().EarnRate(category)
	return c.Earn(ctx, userID, category, rate.Mul(decimal.NewFromInt(int64(count))))
}

// Spend debits credits for a purchase. There is no partial spend.
func (c *Credits) Spend(ctx context.Context, userID string, amount decimal.Decimal, purpose string) (models.CreditWallet, error) {
	if !amount.IsPositive() {
		return models.CreditWallet{}, apperr.Validation("amount must be positive")
	}
	rs := c.Rules.Current()
	release := c.Locks.Lock(lock.Wallet(userID))
	defer release()

	now := c.Now()
	w, err := c.load(ctx, rs, userID, now)
	if err != nil {
		return models.CreditWallet{}, err
	}
	if w.Balance.LessThan(amount) {
		return models.CreditWallet{}, apperr.New(apperr.KindInsufficientFunds, "wallet has %s credits, %s needed", w.Balance.String(), amount.String())
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	w.Version++
	b := &repository.Batch{
		Wallets: []models.CreditWallet{w},
		CreditTransactions: []models.CreditTransaction{{
			ID:           newID(),
			UserID:       userID,
			Type:         models.CreditSpend,
			Amount:       amount.Neg(),
			BalanceAfter: w.Balance,
			Description:  purpose,
			CreatedAt:    now,
		}},
	}
	if err := c.Store.Commit(ctx, b); err != nil {
		return models.CreditWallet{}, err
	}
	c.Log.WithFields(logrus.Fields{"user_id": userID, "amount": amount.String()}).Info("Credits spent")
	return w, nil
}

// Transfer moves credits between two users. Both wallets change in one commit
// or neither does.
func (c *Credits) Transfer(ctx context.Context, senderID, recipientID string, amount decimal.Decimal, message string) (models.CreditWallet, error) {
	if senderID == recipientID {
		return models.CreditWallet{}, apperr.New(apperr.KindSelfTransfer, "cannot transfer credits to yourself")
	}
	if recipientID == "" {
		return models.CreditWallet{}, apperr.Validation("recipient is required")
	}
	if !amount.IsPositive() {
		return models.CreditWallet{}, apperr.Validation("amount must be positive")
	}
	if _, err := c.Members.Member(ctx, recipientID); err != nil {
		return models.CreditWallet{}, err
	}

	rs := c.Rules.Current()
	release := c.Locks.LockAll(lock.Wallet(senderID), lock.Wallet(recipientID))
	defer release()

	now := c.Now()
	from, err := c.load(ctx, rs, senderID, now)
	if err != nil {
		return models.CreditWallet{}, err
	}
	to, err := c.load(ctx, rs, recipientID, now)
	if err != nil {
		return models.CreditWallet{}, err
	}
	if from.Balance.LessThan(amount) {
		return models.CreditWallet{}, apperr.New(apperr.KindInsufficientFunds, "wallet has %s credits, %s needed", from.Balance.String(), amount.String())
	}

	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)
	from.UpdatedAt, to.UpdatedAt = now, now
	from.Version++
	to.Version++
	b := &repository.Batch{
		Wallets: []models.CreditWallet{from, to},
		CreditTransactions: []models.CreditTransaction{
			{
				ID: newID(), UserID: senderID, Type: models.CreditTransferOut, Amount: amount.Neg(),
				BalanceAfter: from.Balance, RelatedUserID: recipientID, Description: message, CreatedAt: now,
			},
			{
				ID: newID(), UserID: recipientID, Type: models.CreditTransferIn, Amount: amount,
				BalanceAfter: to.Balance, RelatedUserID: senderID, Description: message, CreatedAt: now,
			},
		},
	}
	if err := c.Store.Commit(ctx, b); err != nil {
		return models.CreditWallet{}, err
	}
	c.Log.WithFields(logrus.Fields{"sender_id": senderID, "recipient_id": recipientID, "amount": amount.String()}).Info("Credits transferred")
	return from, nil
}

// ClaimDailyBonus credits the daily bonus once per calendar day.
func (c *Credits) ClaimDailyBonus(ctx context.Context, userID string) (models.CreditWallet, error) {
	rs := c.Rules.Current()
	release := c.Locks.Lock(lock.Wallet(userID))
	defer release()

	now := c.Now()
	day := rs.Day(now)
	w, err := c.load(ctx, rs, userID, now)
	if err != nil {
		return models.CreditWallet{}, err
	}
	if w.LastBonusDate == day {
		return models.CreditWallet{}, apperr.New(apperr.KindAlreadyProcessed, "daily bonus already claimed for %s", day)
	}
	bonus := rs.Credits.DailyBonus
	w.Balance = w.Balance.Add(bonus)
	w.LastBonusDate = day
	w.UpdatedAt = now
	w.Version++
	b := &repository.Batch{
		Wallets: []models.CreditWallet{w},
		CreditTransactions: []models.CreditTransaction{{
			ID:           newID(),
			UserID:       userID,
			Type:         models.CreditBonus,
			Amount:       bonus,
			BalanceAfter: w.Balance,
			Description:  "daily bonus " + day,
			CreatedAt:    now,
		}},
	}
	if err := c.Store.Commit(ctx, b); err != nil {
		return models.CreditWallet{}, err
	}
	return w, nil
}

// load reads a wallet for mutation, creating it in memory when missing and
// rolling its daily counters over to today. The caller holds the wallet lock.
func (c *Credits) load(ctx context.Context, rs *rules.RuleSet, userID string, now time.Time) (models.CreditWallet, error) {
	w, err := c.Store.GetWallet(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return newWallet(userID, rs.Day(now), now), nil
	}
	if err != nil {
		return models.CreditWallet{}, err
	}
	w = w.Clone()
	w.RollOver(rs.Day(now))
	return w, nil
}

func newWallet(userID, day string, now time.Time) models.CreditWallet {
	return models.CreditWallet{
		UserID:           userID,
		Balance:          decimal.Zero,
		EarnedToday:      decimal.Zero,
		EarnedByCategory: make(map[string]decimal.Decimal),
		ResetDate:        day,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
