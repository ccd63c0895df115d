package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/models"
)

// Store provides persistence for the ledger, loans and credit wallets.
// Reads return the latest committed state and never wait on entity locks.
// All writes go through Commit, which applies a Batch atomically.
type Store interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	// ListTransactions returns matching transactions, newest first.
	ListTransactions(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error)

	ListProducts(ctx context.Context) ([]models.LoanProduct, error)

	GetLoan(ctx context.Context, id string) (models.LoanApplication, error)
	ListLoansByMember(ctx context.Context, memberID string) ([]models.LoanApplication, error)
	ListLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.LoanApplication, error)
	ListCommitmentsByGuarantor(ctx context.Context, guarantorID string) ([]models.GuarantorCommitment, error)
	ListCommitmentsByLoan(ctx context.Context, loanID string) ([]models.GuarantorCommitment, error)

	GetWallet(ctx context.Context, userID string) (models.CreditWallet, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)

	GetMandate(ctx context.Context, userID string) (models.RepaymentMandate, error)
	ListActiveMandates(ctx context.Context) ([]models.RepaymentMandate, error)

	ListAudit(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error)

	Commit(ctx context.Context, b *Batch) error
}

// Batch is one atomic unit of work.
//
// Versioned entities (accounts, loans, wallets, mandates) are inserted when
// Version is 1 and otherwise updated only if the stored version is Version-1;
// a mismatch fails the whole batch with apperr.ErrConflict.
type Batch struct {
	Accounts           []models.Account
	Transactions       []models.Transaction
	Products           []models.LoanProduct
	Loans              []models.LoanApplication
	Reservations       []Reservation
	CommitmentChanges  []CommitmentChange
	Wallets            []models.CreditWallet
	CreditTransactions []models.CreditTransaction
	Mandates           []models.RepaymentMandate
	Audit              []models.AuditEntry
}

// Reservation adds a guarantor commitment. The store re-checks that the
// guarantor's active commitments plus this one stay within Capacity.
type Reservation struct {
	Commitment models.GuarantorCommitment
	Capacity   decimal.Decimal
}

// CommitmentChange moves every active commitment of a loan to Status.
type CommitmentChange struct {
	LoanID string
	Status models.CommitmentStatus
	At     time.Time
}

func (b *Batch) Empty() bool {
	return len(b.Accounts) == 0 && len(b.Transactions) == 0 && len(b.Products) == 0 &&
		len(b.Loans) == 0 && len(b.Reservations) == 0 && len(b.CommitmentChanges) == 0 &&
		len(b.Wallets) == 0 && len(b.CreditTransactions) == 0 && len(b.Mandates) == 0 &&
		len(b.Audit) == 0
}

// MemberRegistry is the read-only member/KYC registry.
type MemberRegistry interface {
	Member(ctx context.Context, id string) (models.Member, error)
}
