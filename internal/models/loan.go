package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is a state of the loan application state machine.
type LoanStatus string

const (
	LoanDraft           LoanStatus = "draft"
	LoanPendingApproval LoanStatus = "pending_approval"
	LoanApproved        LoanStatus = "approved"
	LoanRejected        LoanStatus = "rejected"
	LoanActive          LoanStatus = "active"
	LoanOverdue         LoanStatus = "overdue"
	LoanPaidOff         LoanStatus = "paid_off"
	LoanDefaulted       LoanStatus = "defaulted"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanDraft:           {LoanPendingApproval},
	LoanPendingApproval: {LoanApproved, LoanRejected},
	LoanApproved:        {LoanActive},
	LoanActive:          {LoanPaidOff, LoanOverdue},
	LoanOverdue:         {LoanActive, LoanDefaulted, LoanPaidOff},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to LoanStatus) bool {
	for _, s := range loanTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s LoanStatus) Terminal() bool {
	return s == LoanRejected || s == LoanPaidOff || s == LoanDefaulted
}

// Running reports whether the loan counts against the member's concurrent-loan limit.
func (s LoanStatus) Running() bool {
	return s == LoanPendingApproval || s == LoanApproved || s == LoanActive || s == LoanOverdue
}

// Collateral pledged against a loan.
type Collateral struct {
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
	Documents   []string        `json:"documents"`
}

func (c *Collateral) Complete() bool {
	return c != nil && c.Description != "" && c.Value.IsPositive() && len(c.Documents) > 0
}

// Decision is the admin approve/reject record.
type Decision struct {
	Approved bool      `json:"approved"`
	ActorID  string    `json:"actor_id"`
	Token    string    `json:"token"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// LoanApplication is a member's loan from draft to terminal resolution.
type LoanApplication struct {
	ID             string          `json:"id"`
	MemberID       string          `json:"member_id"`
	ProductID      string          `json:"product_id"`
	Product        *LoanProduct    `json:"product_snapshot,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	DurationMonths int             `json:"duration_months"`
	Purpose        string          `json:"purpose"`

	GuarantorIDs []string    `json:"guarantor_ids"`
	Collateral   *Collateral `json:"collateral,omitempty"`
	Status       LoanStatus  `json:"status"`
	AccountID    string      `json:"account_id,omitempty"`

	Schedule       []Installment   `json:"schedule,omitempty"`
	PenaltyAccrued decimal.Decimal `json:"penalty_accrued"`
	PenaltyPaid    decimal.Decimal `json:"penalty_paid"`
	PenaltyThrough *time.Time      `json:"penalty_through,omitempty"`
	MissedCycles   int             `json:"missed_cycles"`

	Eligibility *EligibilityResult `json:"eligibility,omitempty"`
	Decision    *Decision          `json:"decision,omitempty"`
	Version     int64              `json:"version"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	DisbursedAt *time.Time `json:"disbursed_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Outstanding is unpaid installments plus unpaid penalty.
func (l *LoanApplication) Outstanding() decimal.Decimal {
	total := l.PenaltyAccrued.Sub(l.PenaltyPaid)
	for _, inst := range l.Schedule {
		total = total.Add(inst.Remaining())
	}
	return total
}

// CommitmentStatus tracks a guarantor pledge.
type CommitmentStatus string

const (
	CommitmentReserved CommitmentStatus = "reserved"
	CommitmentLocked   CommitmentStatus = "locked"
	CommitmentReleased CommitmentStatus = "released"
)

// GuarantorCommitment is capacity a guarantor has pledged to one loan.
type GuarantorCommitment struct {
	LoanID       string           `json:"loan_id"`
	GuarantorID  string           `json:"guarantor_id"`
	CapacityUsed decimal.Decimal  `json:"capacity_used"`
	Status       CommitmentStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	ReleasedAt   *time.Time       `json:"released_at,omitempty"`
}

func (c GuarantorCommitment) Active() bool {
	return c.Status == CommitmentReserved || c.Status == CommitmentLocked
}

// LoanHistory summarises a member's past and present loans for scoring.
type LoanHistory struct {
	Active    int `json:"active"`
	Overdue   int `json:"overdue"`
	Defaulted int `json:"defaulted"`
	PaidOff   int `json:"paid_off"`
}

// Clone returns a deep copy of the application.
func (l LoanApplication) Clone() LoanApplication {
	cp := l
	cp.GuarantorIDs = append([]string(nil), l.GuarantorIDs...)
	cp.Schedule = append([]Installment(nil), l.Schedule...)
	if l.Product != nil {
		p := *l.Product
		cp.Product = &p
	}
	if l.Collateral != nil {
		c := *l.Collateral
		c.Documents = append([]string(nil), l.Collateral.Documents...)
		cp.Collateral = &c
	}
	if l.Eligibility != nil {
		e := *l.Eligibility
		cp.Eligibility = &e
	}
	if l.Decision != nil {
		dcs := *l.Decision
		cp.Decision = &dcs
	}
	return cp
}
