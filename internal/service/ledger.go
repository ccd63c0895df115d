package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/rules"
)

// Ledger posts journal entries and administers member accounts
type Ledger struct {
	Deps
}

// PostRequest describes one posting. Amount is the positive magnitude; the
// sign follows from Type.
type PostRequest struct {
	AccountID string                 `json:"account_id"`
	Amount    decimal.Decimal        `json:"amount"`
	Type      models.TransactionType `json:"type"`
	Method    string                 `json:"method"`
	Reference string                 `json:"reference"`
	Reason    string                 `json:"reason"`
}

// Balance is the read model of an account balance.
type Balance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

// OpenAccount creates an account of the given type for a member
func (l *Ledger) OpenAccount(ctx context.Context, actor models.Actor, ownerID string, typ models.AccountType) (models.Account, error) {
	if err := requireSelfOrAdmin(actor, ownerID); err != nil {
		return models.Account{}, err
	}
	if !typ.Valid() {
		return models.Account{}, apperr.Validation("unknown account type %q", typ)
	}
	member, err := l.Members.Member(ctx, ownerID)
	if err != nil {
		return models.Account{}, err
	}
	if member.Status != models.MemberActive {
		return models.Account{}, apperr.New(apperr.KindNotEligible, "member %s is %s", ownerID, member.Status)
	}

	rs := l.Rules.Current()
	release := l.Locks.Lock(lock.Member(ownerID))
	defer release()

	existing, err := l.Store.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return models.Account{}, err
	}
	for _, a := range existing {
		if a.Type == typ && a.Status != models.AccountClosed {
			return models.Account{}, apperr.New(apperr.KindConflict, "member %s already has a %s account", ownerID, typ)
		}
	}

	now := l.Now()
	acct := models.Account{
		ID:         newID(),
		OwnerID:    ownerID,
		Type:       typ,
		Balance:    decimal.Zero,
		MinBalance: rs.MinBalance(typ),
		Currency:   rs.Ledger.Currency,
		Status:     models.AccountActive,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b := &repository.Batch{
		Accounts: []models.Account{acct},
		Audit:    []models.AuditEntry{auditEntry(actor, "account.open", "account", acct.ID, "", now)},
	}
	if err := l.Store.Commit(ctx, b); err != nil {
		return models.Account{}, err
	}
	l.Log.WithFields(logrus.Fields{"account_id": acct.ID, "owner_id": ownerID, "type": typ}).Info("Account opened")
	return acct, nil
}

// Post appends a deposit, withdrawal or dividend entry and updates the balance
// in one commit.
func (l *Ledger) Post(ctx context.Context, actor models.Actor, req PostRequest) (models.Transaction, error) {
	tx, err := l.post(ctx, actor, req)
	postingsTotal.WithLabelValues(string(req.Type), outcome(err)).Inc()
	fields := logrus.Fields{"account_id": req.AccountID, "type": req.Type, "amount": req.Amount.String(), "method": req.Method}
	if err != nil {
		l.Log.WithFields(fields).Warnf("Posting rejected: %v", err)
		return models.Transaction{}, err
	}
	l.Log.WithFields(fields).Infof("Transaction posted: balance %s", tx.BalanceAfter.StringFixed(2))
	return tx, nil
}

func (l *Ledger) post(ctx context.Context, actor models.Actor, req PostRequest) (models.Transaction, error) {
	switch req.Type {
	case models.TxDeposit, models.TxWithdrawal:
	case models.TxDividend:
		if err := requireAdmin(actor, "dividend posting"); err != nil {
			return models.Transaction{}, err
		}
	default:
		return models.Transaction{}, apperr.Validation("transaction type %q cannot be posted directly", req.Type)
	}
	if req.Method == "" {
		return models.Transaction{}, apperr.Validation("method is required")
	}

	pre, err := l.Store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := requireSelfOrAdmin(actor, pre.OwnerID); err != nil {
		return models.Transaction{}, err
	}

	rs := l.Rules.Current()
	release := l.Locks.LockAll(lock.Account(pre.ID), lock.Guarantor(pre.OwnerID))
	defer release()

	acct, err := l.Store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return models.Transaction{}, err
	}

	now := l.Now()
	tx, err := l.entry(ctx, rs, &acct, req, actor, now, req.Type != models.TxDividend)
	if err != nil {
		return models.Transaction{}, err
	}
	acct.Version++
	b := &repository.Batch{
		Accounts:     []models.Account{acct},
		Transactions: []models.Transaction{tx},
	}
	if err := l.Store.Commit(ctx, b); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

// Deposit credits an account.
func (l *Ledger) Deposit(ctx context.Context, actor models.Actor, accountID string, amount decimal.Decimal, method, reference string) (models.Transaction, error) {
	return l.Post(ctx, actor, PostRequest{AccountID: accountID, Amount: amount, Type: models.TxDeposit, Method: method, Reference: reference})
}

// Withdraw debits an account.
func (l *Ledger) Withdraw(ctx context.Context, actor models.Actor, accountID string, amount decimal.Decimal, method, reference string) (models.Transaction, error) {
	return l.Post(ctx, actor, PostRequest{AccountID: accountID, Amount: amount, Type: models.TxWithdrawal, Method: method, Reference: reference})
}

// entry validates req against acct, applies it to acct and returns the
// signed journal entry. The caller holds the account lock and the owner's
// guarantor lock, bumps the version once and commits acct together with the
// entry. Member limits apply only when limits is set.
func (l *Ledger) entry(ctx context.Context, rs *rules.RuleSet, acct *models.Account, req PostRequest, actor models.Actor, now time.Time, limits bool) (models.Transaction, error) {
	if !req.Amount.IsPositive() {
		return models.Transaction{}, apperr.Validation("amount must be positive")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return models.Transaction{}, apperr.Validation("amount %s has more than two decimal places", req.Amount)
	}
	if acct.Status != models.AccountActive {
		return models.Transaction{}, apperr.New(apperr.KindAccountInactive, "account %s is %s", acct.ID, acct.Status)
	}
	if req.Reference != "" {
		dup, err := l.Store.ListTransactions(ctx, models.TransactionFilter{AccountID: acct.ID, Reference: req.Reference, Limit: 1})
		if err != nil {
			return models.Transaction{}, err
		}
		if len(dup) > 0 {
			return models.Transaction{}, apperr.New(apperr.KindAlreadyProcessed, "reference %s already posted as %s", req.Reference, dup[0].ID)
		}
	}

	if limits {
		if err := l.checkBounds(rs, req); err != nil {
			return models.Transaction{}, err
		}
	}

	signed := req.Amount
	if req.Type.IsDebit() {
		signed = signed.Neg()
		if req.Amount.GreaterThan(acct.Available()) {
			return models.Transaction{}, apperr.New(apperr.KindInsufficientFunds, "available %s is less than %s",
				acct.Available().StringFixed(2), req.Amount.StringFixed(2))
		}
		if err := l.checkPledges(ctx, rs, *acct, acct.Balance.Add(signed)); err != nil {
			return models.Transaction{}, err
		}
	}

	if limits {
		if err := l.checkDailyLimits(ctx, rs, acct.ID, req, now); err != nil {
			return models.Transaction{}, err
		}
	}

	acct.Balance = acct.Balance.Add(signed)
	acct.UpdatedAt = now
	tx := models.Transaction{
		ID:           newID(),
		AccountID:    acct.ID,
		Type:         req.Type,
		Amount:       signed,
		BalanceAfter: acct.Balance,
		Method:       req.Method,
		Reference:    req.Reference,
		ActorID:      actor.ID,
		Reason:       req.Reason,
		ProcessedAt:  now,
	}
	tx.Signature = l.Signer.Sign(tx)
	return tx, nil
}

func (l *Ledger) checkBounds(rs *rules.RuleSet, req PostRequest) error {
	var lo, hi decimal.Decimal
	switch req.Type {
	case models.TxDeposit:
		lo, hi = rs.Ledger.MinDeposit, rs.Ledger.MaxDeposit
	case models.TxWithdrawal:
		lo, hi = rs.Ledger.MinWithdrawal, rs.Ledger.MaxWithdrawal
	default:
		return nil
	}
	if req.Amount.LessThan(lo) {
		return apperr.Validation("minimum %s is %s", req.Type, lo.StringFixed(2))
	}
	if hi.IsPositive() && req.Amount.GreaterThan(hi) {
		return apperr.New(apperr.KindLimitExceeded, "maximum %s is %s", req.Type, hi.StringFixed(2))
	}
	return nil
}

// checkDailyLimits enforces the per-day withdrawal count and the per-method
// volume caps over today's member-initiated postings.
func (l *Ledger) checkDailyLimits(ctx context.Context, rs *rules.RuleSet, accountID string, req PostRequest, now time.Time) error {
	methodLimit, hasMethodLimit := rs.MethodLimit(req.Method)
	countWithdrawals := req.Type == models.TxWithdrawal && rs.Ledger.MaxDailyWithdrawals > 0
	if !hasMethodLimit && !countWithdrawals {
		return nil
	}

	start := rs.StartOfDay(now)
	today, err := l.Store.ListTransactions(ctx, models.TransactionFilter{
		AccountID: accountID,
		From:      start,
		To:        start.AddDate(0, 0, 1),
	})
	if err != nil {
		return err
	}

	withdrawals := 0
	volume := decimal.Zero
	for _, t := range today {
		if t.Type != models.TxDeposit && t.Type != models.TxWithdrawal {
			continue
		}
		if t.Type == models.TxWithdrawal {
			withdrawals++
		}
		if t.Method == req.Method {
			volume = volume.Add(t.Amount.Abs())
		}
	}
	if countWithdrawals && withdrawals >= rs.Ledger.MaxDailyWithdrawals {
		return apperr.New(apperr.KindLimitExceeded, "daily withdrawal count of %d reached", rs.Ledger.MaxDailyWithdrawals)
	}
	if hasMethodLimit && volume.Add(req.Amount).GreaterThan(methodLimit) {
		return apperr.New(apperr.KindLimitExceeded, "daily %s limit %s exceeded", req.Method, methodLimit.StringFixed(2))
	}
	return nil
}

// checkPledges fails with CapacityExceeded when lowering acct to balanceAfter
// would leave its owner's guarantee capacity below their active commitments.
// Postings that do not lower the committed balance always pass.
func (l *Ledger) checkPledges(ctx context.Context, rs *rules.RuleSet, acct models.Account, balanceAfter decimal.Decimal) error {
	if acct.Type != models.AccountSavings && acct.Type != models.AccountShares {
		return nil
	}
	commitments, err := l.Store.ListCommitmentsByGuarantor(ctx, acct.OwnerID)
	if err != nil {
		return err
	}
	pledged := decimal.Zero
	for _, c := range commitments {
		if c.Active() {
			pledged = pledged.Add(c.CapacityUsed)
		}
	}
	if pledged.IsZero() {
		return nil
	}

	accounts, err := l.Store.ListAccountsByOwner(ctx, acct.OwnerID)
	if err != nil {
		return err
	}
	holdings := decimal.Zero
	for _, a := range accounts {
		if a.Status == models.AccountClosed || (a.Type != models.AccountSavings && a.Type != models.AccountShares) {
			continue
		}
		if a.ID == acct.ID {
			if !balanceAfter.LessThan(a.Balance) {
				return nil
			}
			holdings = holdings.Add(balanceAfter)
			continue
		}
		holdings = holdings.Add(a.Balance)
	}
	capacity := holdings.Mul(rs.Loans.GuarantorCapacityRatio).Round(2)
	if pledged.GreaterThan(capacity) {
		return apperr.New(apperr.KindCapacityExceeded, "member %s guarantees %s; capacity after this debit would be %s",
			acct.OwnerID, pledged.StringFixed(2), capacity.StringFixed(2))
	}
	return nil
}

// Reverse posts the compensating entry of a deposit, withdrawal or dividend.
// Loan postings are corrected through the loan instead.
func (l *Ledger) Reverse(ctx context.Context, actor models.Actor, txID, reason string) (models.Transaction, error) {
	if err := requireAdmin(actor, "reversal"); err != nil {
		return models.Transaction{}, err
	}
	if reason == "" {
		return models.Transaction{}, apperr.Validation("reason is required")
	}
	orig, err := l.Store.GetTransaction(ctx, txID)
	if err != nil {
		return models.Transaction{}, err
	}
	switch orig.Type {
	case models.TxDeposit, models.TxWithdrawal, models.TxDividend:
	default:
		return models.Transaction{}, apperr.Validation("%s transactions cannot be reversed", orig.Type)
	}

	pre, err := l.Store.GetAccount(ctx, orig.AccountID)
	if err != nil {
		return models.Transaction{}, err
	}
	rs := l.Rules.Current()
	release := l.Locks.LockAll(lock.Account(pre.ID), lock.Guarantor(pre.OwnerID))
	defer release()

	prior, err := l.Store.ListTransactions(ctx, models.TransactionFilter{ReversalOf: orig.ID, Limit: 1})
	if err != nil {
		return models.Transaction{}, err
	}
	if len(prior) > 0 {
		return models.Transaction{}, apperr.New(apperr.KindAlreadyProcessed, "transaction %s already reversed by %s", orig.ID, prior[0].ID)
	}

	acct, err := l.Store.GetAccount(ctx, orig.AccountID)
	if err != nil {
		return models.Transaction{}, err
	}
	if acct.Status != models.AccountActive {
		return models.Transaction{}, apperr.New(apperr.KindAccountInactive, "account %s is %s", acct.ID, acct.Status)
	}
	signed := orig.Amount.Neg()
	if signed.IsNegative() && signed.Abs().GreaterThan(acct.Available()) {
		return models.Transaction{}, apperr.New(apperr.KindInsufficientFunds, "available %s cannot cover reversal of %s",
			acct.Available().StringFixed(2), signed.Abs().StringFixed(2))
	}
	if signed.IsNegative() {
		if err := l.checkPledges(ctx, rs, acct, acct.Balance.Add(signed)); err != nil {
			return models.Transaction{}, err
		}
	}

	now := l.Now()
	acct.Balance = acct.Balance.Add(signed)
	acct.UpdatedAt = now
	acct.Version++
	tx := models.Transaction{
		ID:           newID(),
		AccountID:    acct.ID,
		Type:         models.TxReversal,
		Amount:       signed,
		BalanceAfter: acct.Balance,
		Method:       orig.Method,
		ReversalOf:   orig.ID,
		ActorID:      actor.ID,
		Reason:       reason,
		ProcessedAt:  now,
	}
	tx.Signature = l.Signer.Sign(tx)

	b := &repository.Batch{
		Accounts:     []models.Account{acct},
		Transactions: []models.Transaction{tx},
		Audit:        []models.AuditEntry{auditEntry(actor, "transaction.reverse", "transaction", orig.ID, reason, now)},
	}
	err = l.Store.Commit(ctx, b)
	postingsTotal.WithLabelValues(string(models.TxReversal), outcome(err)).Inc()
	if err != nil {
		return models.Transaction{}, err
	}
	l.Log.WithFields(logrus.Fields{"account_id": acct.ID, "reversal_of": orig.ID}).Info("Transaction reversed")
	return tx, nil
}

// Freeze blocks all postings to an account.
func (l *Ledger) Freeze(ctx context.Context, actor models.Actor, accountID, reason string) (models.Account, error) {
	return l.setStatus(ctx, actor, accountID, models.AccountFrozen, reason, models.AccountActive)
}

// Unfreeze reactivates a frozen account.
func (l *Ledger) Unfreeze(ctx context.Context, actor models.Actor, accountID, reason string) (models.Account, error) {
	return l.setStatus(ctx, actor, accountID, models.AccountActive, reason, models.AccountFrozen)
}

// Close closes an empty account. Accounts are never deleted.
func (l *Ledger) Close(ctx context.Context, actor models.Actor, accountID, reason string) (models.Account, error) {
	return l.setStatus(ctx, actor, accountID, models.AccountClosed, reason, models.AccountActive, models.AccountFrozen)
}

func (l *Ledger) setStatus(ctx context.Context, actor models.Actor, accountID string, to models.AccountStatus, reason string, from ...models.AccountStatus) (models.Account, error) {
	if err := requireAdmin(actor, "account "+string(to)); err != nil {
		return models.Account{}, err
	}
	release := l.Locks.Lock(lock.Account(accountID))
	defer release()

	acct, err := l.Store.GetAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	allowed := false
	for _, s := range from {
		if acct.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return models.Account{}, apperr.New(apperr.KindStateConflict, "account %s is %s", accountID, acct.Status)
	}
	if to == models.AccountClosed {
		if !acct.Balance.IsZero() {
			return models.Account{}, apperr.New(apperr.KindStateConflict, "account %s still holds %s", accountID, acct.Balance.StringFixed(2))
		}
		loans, err := l.Store.ListLoansByMember(ctx, acct.OwnerID)
		if err != nil {
			return models.Account{}, err
		}
		for _, ln := range loans {
			if ln.AccountID == accountID && ln.Status.Running() {
				return models.Account{}, apperr.New(apperr.KindStateConflict, "account %s services loan %s", accountID, ln.ID)
			}
		}
	}

	now := l.Now()
	acct.Status = to
	acct.UpdatedAt = now
	acct.Version++
	b := &repository.Batch{
		Accounts: []models.Account{acct},
		Audit:    []models.AuditEntry{auditEntry(actor, "account."+string(to), "account", accountID, reason, now)},
	}
	if err := l.Store.Commit(ctx, b); err != nil {
		return models.Account{}, err
	}
	l.Log.WithFields(logrus.Fields{"account_id": accountID, "status": to}).Info("Account status changed")
	return acct, nil
}

// GetAccount reads the latest committed account.
func (l *Ledger) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return l.Store.GetAccount(ctx, id)
}

// GetBalance reads the latest committed balance without taking the account lock.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	acct, err := l.Store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountID: acct.ID,
		Balance:   acct.Balance,
		Available: acct.Available(),
		Currency:  acct.Currency,
		Status:    string(acct.Status),
	}, nil
}

// ListTransactions returns matching journal entries, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, apperr.Validation("limit and offset must not be negative")
	}
	return l.Store.ListTransactions(ctx, f)
}

// Accounts lists a member's accounts.
func (l *Ledger) Accounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	return l.Store.ListAccountsByOwner(ctx, ownerID)
}

// Holdings sums a member's open savings and shares balances.
func (l *Ledger) Holdings(ctx context.Context, memberID string) (models.Holdings, error) {
	accounts, err := l.Store.ListAccountsByOwner(ctx, memberID)
	if err != nil {
		return models.Holdings{}, fmt.Errorf("failed to load holdings: %w", err)
	}
	h := models.Holdings{Savings: decimal.Zero, Shares: decimal.Zero}
	for _, a := range accounts {
		if a.Status == models.AccountClosed {
			continue
		}
		switch a.Type {
		case models.AccountSavings:
			h.Savings = h.Savings.Add(a.Balance)
		case models.AccountShares:
			h.Shares = h.Shares.Add(a.Balance)
		}
	}
	return h, nil
}

// VerifyTransaction checks a journal entry against its signature.
func (l *Ledger) VerifyTransaction(ctx context.Context, id string) (bool, error) {
	tx, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return false, err
	}
	return l.Signer.Verify(tx), nil
}

// savingsAccount finds the member's open savings account, which receives
// disbursements and funds repayments.
func (l *Ledger) savingsAccount(ctx context.Context, memberID string) (models.Account, error) {
	accounts, err := l.Store.ListAccountsByOwner(ctx, memberID)
	if err != nil {
		return models.Account{}, err
	}
	for _, a := range accounts {
		if a.Type == models.AccountSavings && a.Status != models.AccountClosed {
			return a, nil
		}
	}
	return models.Account{}, apperr.NotFound("member %s has no open savings account", memberID)
}
