package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the business reason for a journal entry.
type TransactionType string

const (
	TxDeposit      TransactionType = "deposit"
	TxWithdrawal   TransactionType = "withdrawal"
	TxDisbursement TransactionType = "disbursement"
	TxRepayment    TransactionType = "repayment"
	TxDividend     TransactionType = "dividend"
	TxReversal     TransactionType = "reversal"
)

// IsDebit reports whether the type reduces the account balance.
// Reversals carry their own sign.
func (t TransactionType) IsDebit() bool {
	return t == TxWithdrawal || t == TxRepayment
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxDisbursement, TxRepayment, TxDividend, TxReversal:
		return true
	}
	return false
}

// Transaction is an immutable journal entry. Amount is signed and
// BalanceAfter equals the previous balance plus Amount.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference,omitempty"`
	ReversalOf   string          `json:"reversal_of,omitempty"`
	ActorID      string          `json:"actor_id"`
	Reason       string          `json:"reason,omitempty"`
	Signature    string          `json:"signature"`
	ProcessedAt  time.Time       `json:"processed_at"`
}

// TransactionFilter narrows a transaction history query.
type TransactionFilter struct {
	AccountID  string
	Type       TransactionType
	Method     string
	Reference  string
	// ReversalOf finds the compensating entry of a transaction.
	ReversalOf string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
