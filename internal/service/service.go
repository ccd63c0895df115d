package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
	"github.com/Dan9191/sacco-service/internal/utils"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store   repository.Store
	Members repository.MemberRegistry
	Rules   *rules.Provider
	Locks   *lock.Keyed
	Signer  *utils.Signer
	Log     *logrus.Logger
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// EventPublisher receives loan events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LoanEvent) error
}

// ReportCache caches eligibility reports per user and period.
type ReportCache interface {
	Get(ctx context.Context, userID, period string) (models.EligibilityReport, bool)
	Set(ctx context.Context, report models.EligibilityReport)
	Invalidate(ctx context.Context, userID string)
}

// RateProvider supplies the central bank reference rate as an annual percentage.
type RateProvider interface {
	KeyRate(ctx context.Context) (models.ReferenceRate, error)
}

// Options carries the optional collaborators.
type Options struct {
	Events  EventPublisher
	Cache   ReportCache
	Rates   RateProvider
	Sources []revenue.Source
}

// Service bundles the ledger, loan and credit services
type Service struct {
	Ledger     *Ledger
	Catalog    *Catalog
	Guarantors *Guarantors
	Loans      *Loans
	Credits    *Credits
	Scorer     *Scorer
	Repayments *Repayments
}

// NewService initializes every service over the shared dependencies
func NewService(d Deps, opts Options) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locks == nil {
		d.Locks = lock.NewKeyed()
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Cache == nil {
		opts.Cache = nopCache{}
	}

	agg := revenue.NewAggregator(d.Log, opts.Sources...)
	ledger := &Ledger{Deps: d}
	catalog := &Catalog{Deps: d, rates: opts.Rates}
	guarantors := &Guarantors{Deps: d, ledger: ledger}
	scorer := &Scorer{Deps: d, agg: agg, cache: opts.Cache}
	loans := &Loans{
		Deps:       d,
		ledger:     ledger,
		catalog:    catalog,
		guarantors: guarantors,
		scorer:     scorer,
		events:     opts.Events,
		cache:      opts.Cache,
	}
	return &Service{
		Ledger:     ledger,
		Catalog:    catalog,
		Guarantors: guarantors,
		Loans:      loans,
		Credits:    &Credits{Deps: d},
		Scorer:     scorer,
		Repayments: &Repayments{Deps: d, loans: loans, agg: agg},
	}
}

func newID() string {
	return uuid.NewString()
}

func auditEntry(actor models.Actor, action, entityType, entityID, reason string, at time.Time) models.AuditEntry {
	return models.AuditEntry{
		ID:         newID(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		At:         at,
	}
}

func requireAdmin(actor models.Actor, action string) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.KindForbidden, "%s requires an admin", action)
	}
	return nil
}

// requireSelfOrAdmin allows members to act on their own resources only.
func requireSelfOrAdmin(actor models.Actor, ownerID string) error {
	if actor.IsAdmin() || actor.ID == ownerID {
		return nil
	}
	return apperr.New(apperr.KindForbidden, "actor %s may not act for %s", actor.ID, ownerID)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.LoanEvent) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, string, string) (models.EligibilityReport, bool) {
	return models.EligibilityReport{}, false
}
func (nopCache) Set(context.Context, models.EligibilityReport) {}
func (nopCache) Invalidate(context.Context, string)            {}
