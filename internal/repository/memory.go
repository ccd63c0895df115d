package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

// MemoryStore keeps everything in process memory. Commit validates the whole
// batch before applying any of it, so a failed batch leaves no trace.
type MemoryStore struct {
	mu sync.RWMutex

	accounts     map[string]models.Account
	transactions []models.Transaction
	txIndex      map[string]int
	products     []models.LoanProduct
	loans        map[string]models.LoanApplication
	commitments  []models.GuarantorCommitment
	wallets      map[string]models.CreditWallet
	creditTxs    []models.CreditTransaction
	mandates     map[string]models.RepaymentMandate
	audit        []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.Account),
		txIndex:  make(map[string]int),
		loans:    make(map[string]models.LoanApplication),
		wallets:  make(map[string]models.CreditWallet),
		mandates: make(map[string]models.RepaymentMandate),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetAccount(_ context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, apperr.NotFound("account %s not found", id)
	}
	return a, nil
}

func (s *MemoryStore) ListAccountsByOwner(_ context.Context, ownerID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.txIndex[id]
	if !ok {
		return models.Transaction{}, apperr.NotFound("transaction %s not found", id)
	}
	return s.transactions[i], nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	skipped := 0
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if !matches(t, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matches(t models.Transaction, f models.TransactionFilter) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Method != "" && t.Method != f.Method {
		return false
	}
	if f.Reference != "" && t.Reference != f.Reference {
		return false
	}
	if f.ReversalOf != "" && t.ReversalOf != f.ReversalOf {
		return false
	}
	if !f.From.IsZero() && t.ProcessedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.ProcessedAt.Before(f.To) {
		return false
	}
	return true
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]models.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LoanProduct(nil), s.products...), nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id string) (models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return models.LoanApplication{}, apperr.NotFound("loan %s not found", id)
	}
	return l.Clone(), nil
}

func (s *MemoryStore) ListLoansByMember(_ context.Context, memberID string) ([]models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LoanApplication
	for _, l := range s.loans {
		if l.MemberID == memberID {
			out = append(out, l.Clone())
		}
	}
	sortLoans(out)
	return out, nil
}

func (s *MemoryStore) ListLoansByStatus(_ context.Context, statuses ...models.LoanStatus) ([]models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[models.LoanStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.LoanApplication
	for _, l := range s.loans {
		if want[l.Status] {
			out = append(out, l.Clone())
		}
	}
	sortLoans(out)
	return out, nil
}

func sortLoans(loans []models.LoanApplication) {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].ID < loans[j].ID
		}
		return loans[i].CreatedAt.Before(loans[j].CreatedAt)
	})
}

func (s *MemoryStore) ListCommitmentsByGuarantor(_ context.Context, guarantorID string) ([]models.GuarantorCommitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GuarantorCommitment
	for _, c := range s.commitments {
		if c.GuarantorID == guarantorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCommitmentsByLoan(_ context.Context, loanID string) ([]models.GuarantorCommitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GuarantorCommitment
	for _, c := range s.commitments {
		if c.LoanID == loanID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (models.CreditWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return models.CreditWallet{}, apperr.NotFound("wallet %s not found", userID)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) ListCreditTransactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CreditTransaction
	for i := len(s.creditTxs) - 1; i >= 0; i-- {
		if s.creditTxs[i].UserID != userID {
			continue
		}
		out = append(out, s.creditTxs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetMandate(_ context.Context, userID string) (models.RepaymentMandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mandates[userID]
	if !ok {
		return models.RepaymentMandate{}, apperr.NotFound("no repayment mandate for %s", userID)
	}
	return m, nil
}

func (s *MemoryStore) ListActiveMandates(_ context.Context) ([]models.RepaymentMandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RepaymentMandate
	for _, m := range s.mandates {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) ListAudit(_ context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for _, e := range s.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Commit applies b atomically.
func (s *MemoryStore) Commit(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(b); err != nil {
		return err
	}

	for _, a := range b.Accounts {
		s.accounts[a.ID] = a
	}
	for _, t := range b.Transactions {
		s.txIndex[t.ID] = len(s.transactions)
		s.transactions = append(s.transactions, t)
	}
	s.products = append(s.products, b.Products...)
	for _, l := range b.Loans {
		s.loans[l.ID] = l.Clone()
	}
	for _, r := range b.Reservations {
		s.commitments = append(s.commitments, r.Commitment)
	}
	for _, ch := range b.CommitmentChanges {
		for i := range s.commitments {
			c := &s.commitments[i]
			if c.LoanID != ch.LoanID || !c.Active() {
				continue
			}
			c.Status = ch.Status
			if ch.Status == models.CommitmentReleased {
				at := ch.At
				c.ReleasedAt = &at
			}
		}
	}
	for _, w := range b.Wallets {
		s.wallets[w.UserID] = w.Clone()
	}
	s.creditTxs = append(s.creditTxs, b.CreditTransactions...)
	for _, m := range b.Mandates {
		s.mandates[m.UserID] = m
	}
	s.audit = append(s.audit, b.Audit...)
	return nil
}

func (s *MemoryStore) validate(b *Batch) error {
	for _, a := range b.Accounts {
		cur, ok := s.accounts[a.ID]
		if err := checkVersion("account", a.ID, a.Version, ok, cur.Version); err != nil {
			return err
		}
	}
	seenRefs := make(map[string]bool)
	for _, t := range b.Transactions {
		if _, dup := s.txIndex[t.ID]; dup {
			return apperr.New(apperr.KindConflict, "transaction %s already recorded", t.ID)
		}
		if t.Reference != "" {
			key := t.AccountID + "|" + t.Reference
			if seenRefs[key] || s.referenceUsed(t.AccountID, t.Reference) {
				return apperr.New(apperr.KindAlreadyProcessed, "reference %s already posted to account %s", t.Reference, t.AccountID)
			}
			seenRefs[key] = true
		}
		if t.ReversalOf != "" && s.reversed(t.ReversalOf) {
			return apperr.New(apperr.KindAlreadyProcessed, "transaction %s already reversed", t.ReversalOf)
		}
	}
	for _, p := range b.Products {
		for _, existing := range s.products {
			if existing.ID == p.ID && existing.Version == p.Version {
				return apperr.New(apperr.KindConflict, "product %s version %d already published", p.ID, p.Version)
			}
		}
	}
	for _, l := range b.Loans {
		cur, ok := s.loans[l.ID]
		if err := checkVersion("loan", l.ID, l.Version, ok, cur.Version); err != nil {
			return err
		}
	}

	pending := make(map[string]decimal.Decimal)
	for _, r := range b.Reservations {
		g := r.Commitment.GuarantorID
		used := pending[g]
		for _, c := range s.commitments {
			if c.GuarantorID == g && c.Active() {
				used = used.Add(c.CapacityUsed)
			}
			if c.GuarantorID == g && c.LoanID == r.Commitment.LoanID && c.Active() {
				return apperr.New(apperr.KindConflict, "guarantor %s already committed to loan %s", g, c.LoanID)
			}
		}
		if used.Add(r.Commitment.CapacityUsed).GreaterThan(r.Capacity) {
			return apperr.New(apperr.KindCapacityExceeded, "guarantor %s has %s free, %s requested",
				g, r.Capacity.Sub(used).StringFixed(2), r.Commitment.CapacityUsed.StringFixed(2))
		}
		pending[g] = pending[g].Add(r.Commitment.CapacityUsed)
	}

	for _, w := range b.Wallets {
		cur, ok := s.wallets[w.UserID]
		if err := checkVersion("wallet", w.UserID, w.Version, ok, cur.Version); err != nil {
			return err
		}
	}
	for _, m := range b.Mandates {
		cur, ok := s.mandates[m.UserID]
		if err := checkVersion("mandate", m.UserID, m.Version, ok, cur.Version); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) referenceUsed(accountID, reference string) bool {
	for _, t := range s.transactions {
		if t.AccountID == accountID && t.Reference == reference {
			return true
		}
	}
	return false
}

func (s *MemoryStore) reversed(txID string) bool {
	for _, t := range s.transactions {
		if t.ReversalOf == txID {
			return true
		}
	}
	return false
}

func checkVersion(entity, id string, next int64, exists bool, current int64) error {
	if next == 1 {
		if exists {
			return apperr.New(apperr.KindConflict, "%s %s already exists", entity, id)
		}
		return nil
	}
	if !exists {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	if current != next-1 {
		return apperr.New(apperr.KindConflict, "%s %s was modified concurrently (version %d, expected %d)", entity, id, current, next-1)
	}
	return nil
}
