package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
	"github.com/Dan9191/sacco-service/internal/utils"
)

var (
	ctx   = context.Background()
	admin = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	epoch = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
)

func as(id string) models.Actor {
	return models.Actor{ID: id, Role: models.RoleMember}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recorder struct {
	mu     sync.Mutex
	events []models.LoanEvent
}

func (r *recorder) Publish(_ context.Context, ev models.LoanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []models.LoanEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LoanEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *repository.MemoryStore
	members *repository.MemoryMembers
	rules   *rules.RuleSet
	clock   *testClock
	events  *recorder
	sources map[string]*repository.StaticRevenueSource
}

func newFixture(t *testing.T, tweak ...func(*rules.RuleSet)) *fixture {
	t.Helper()
	rs := rules.Default()
	rs.Location = time.UTC
	for _, fn := range tweak {
		fn(rs)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		store:   repository.NewMemoryStore(),
		members: repository.NewMemoryMembers(),
		rules:   rs,
		clock:   &testClock{now: epoch},
		events:  &recorder{},
		sources: make(map[string]*repository.StaticRevenueSource),
	}
	var sources []revenue.Source
	for _, name := range []string{"music", "podcast", "store"} {
		src := repository.NewStaticRevenueSource(name)
		f.sources[name] = src
		sources = append(sources, src)
	}
	f.svc = NewService(Deps{
		Store:   f.store,
		Members: f.members,
		Rules:   rules.NewProvider(rs),
		Signer:  utils.NewSigner("test-secret"),
		Log:     log,
		Now:     f.clock.Now,
	}, Options{Events: f.events, Sources: sources})
	return f
}

func (f *fixture) addMembers(ids ...string) {
	for _, id := range ids {
		f.members.Put(models.Member{ID: id, Name: "Member " + id, Email: id + "@example.com", Status: models.MemberActive})
	}
}

// openSavings opens a savings account for owner and funds it by bank deposit.
func (f *fixture) openSavings(t *testing.T, owner, balance string) models.Account {
	t.Helper()
	acct, err := f.svc.Ledger.OpenAccount(ctx, admin, owner, models.AccountSavings)
	require.NoError(t, err)
	if amount := dec(balance); amount.IsPositive() {
		_, err = f.svc.Ledger.Deposit(ctx, admin, acct.ID, amount, "bank", "")
		require.NoError(t, err)
	}
	acct, err = f.svc.Ledger.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	return acct
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	acct, err := f.svc.Ledger.GetAccount(ctx, accountID)
	require.NoError(t, err)
	return acct.Balance
}

func boostProduct() models.LoanProduct {
	return models.LoanProduct{
		ID:                    "boost",
		Name:                  "Artist Boost",
		MinAmount:             dec("100000"),
		MaxAmount:             dec("5000000"),
		MinDurationMonths:     1,
		MaxDurationMonths:     12,
		InterestRate:          dec("12"),
		MinGuarantors:         2,
		MaxLoanToSavingsRatio: dec("3"),
		GracePeriodDays:       7,
		PenaltyRatePerDay:     dec("0.1"),
		MaxConcurrentLoans:    1,
	}
}

func (f *fixture) publish(t *testing.T, mutate func(*models.LoanProduct)) models.LoanProduct {
	t.Helper()
	p := boostProduct()
	if mutate != nil {
		mutate(&p)
	}
	out, err := f.svc.Catalog.Publish(ctx, admin, p)
	require.NoError(t, err)
	return out
}

func (f *fixture) draft(t *testing.T, memberID, productID, amount string, months int, guarantors ...string) models.LoanApplication {
	t.Helper()
	loan, err := f.svc.Loans.CreateDraft(ctx, as(memberID), DraftRequest{
		MemberID:       memberID,
		ProductID:      productID,
		Amount:         dec(amount),
		DurationMonths: months,
		Purpose:        "studio time",
		GuarantorIDs:   guarantors,
	})
	require.NoError(t, err)
	return loan
}

// borrower sets up applicant m1 with 200,000 savings and guarantors g1 and g2
// with 300,000 savings each, plus the boost product.
func (f *fixture) borrower(t *testing.T) models.Account {
	t.Helper()
	f.addMembers("m1", "g1", "g2")
	acct := f.openSavings(t, "m1", "200000")
	f.openSavings(t, "g1", "300000")
	f.openSavings(t, "g2", "300000")
	f.publish(t, nil)
	return acct
}

// activeLoan disburses a 400,000 four-month boost loan to m1.
func (f *fixture) activeLoan(t *testing.T) (models.LoanApplication, models.Account) {
	t.Helper()
	acct := f.borrower(t)
	loan := f.draft(t, "m1", "boost", "400000", 4, "g1", "g2")
	_, err := f.svc.Loans.Submit(ctx, as("m1"), loan.ID)
	require.NoError(t, err)
	_, err = f.svc.Loans.Decide(ctx, admin, loan.ID, DecisionRequest{
		Approve: true, ExpectedStatus: models.LoanPendingApproval, Token: "approve-" + loan.ID,
	})
	require.NoError(t, err)
	loan, _, err = f.svc.Loans.Disburse(ctx, admin, loan.ID)
	require.NoError(t, err)
	return loan, acct
}
