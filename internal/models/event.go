package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanEventType names a loan lifecycle event.
type LoanEventType string

const (
	EventLoanSubmitted LoanEventType = "loan.submitted"
	EventLoanApproved  LoanEventType = "loan.approved"
	EventLoanRejected  LoanEventType = "loan.rejected"
	EventLoanDisbursed LoanEventType = "loan.disbursed"
	EventLoanOverdue   LoanEventType = "loan.overdue"
	EventLoanCaughtUp  LoanEventType = "loan.caught_up"
	EventLoanDefaulted LoanEventType = "loan.defaulted"
	EventLoanPaidOff   LoanEventType = "loan.paid_off"
)

// LoanEvent is published after a loan change has been committed.
type LoanEvent struct {
	ID       string          `json:"id"`
	Type     LoanEventType   `json:"type"`
	LoanID   string          `json:"loan_id"`
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
	Status   LoanStatus      `json:"status"`
	Previous LoanStatus      `json:"previous_status"`
	ActorID  string          `json:"actor_id"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}
