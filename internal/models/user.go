package models

import "github.com/shopspring/decimal"

// MemberStatus is the SACCO membership state.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberExited    MemberStatus = "exited"
)

// Member is a cooperative member as known by the member registry.
type Member struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Status MemberStatus `json:"status"`
}

// Holdings is a member's savings and share balances, the base of guarantor
// capacity and of the loan-to-savings ratio.
type Holdings struct {
	Savings decimal.Decimal `json:"savings"`
	Shares  decimal.Decimal `json:"shares"`
}

func (h Holdings) Total() decimal.Decimal {
	return h.Savings.Add(h.Shares)
}

// Actor identifies who performed a state change.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
