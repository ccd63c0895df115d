package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/lock"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
)

// Catalog is the versioned loan product lookup. Published versions are
// never edited; a change is a new version.
type Catalog struct {
	Deps
	rates RateProvider
}

// Get returns the current version of a product.
func (c *Catalog) Get(ctx context.Context, id string) (models.LoanProduct, error) {
	versions, err := c.versions(ctx, id)
	if err != nil {
		return models.LoanProduct{}, err
	}
	if len(versions) == 0 {
		return models.LoanProduct{}, apperr.NotFound("loan product %s not found", id)
	}
	return versions[len(versions)-1], nil
}

// GetVersion returns one specific version of a product.
func (c *Catalog) GetVersion(ctx context.Context, id string, version int) (models.LoanProduct, error) {
	versions, err := c.versions(ctx, id)
	if err != nil {
		return models.LoanProduct{}, err
	}
	for _, p := range versions {
		if p.Version == version {
			return p, nil
		}
	}
	return models.LoanProduct{}, apperr.NotFound("loan product %s version %d not found", id, version)
}

// List returns the current version of every product.
func (c *Catalog) List(ctx context.Context) ([]models.LoanProduct, error) {
	all, err := c.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]models.LoanProduct)
	for _, p := range all {
		if cur, ok := latest[p.ID]; !ok || p.Version > cur.Version {
			latest[p.ID] = p
		}
	}
	out := make([]models.LoanProduct, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) versions(ctx context.Context, id string) ([]models.LoanProduct, error) {
	all, err := c.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.LoanProduct
	for _, p := range all {
		if p.ID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Publish stores p as the next version of its product.
func (c *Catalog) Publish(ctx context.Context, actor models.Actor, p models.LoanProduct) (models.LoanProduct, error) {
	if err := requireAdmin(actor, "product publishing"); err != nil {
		return models.LoanProduct{}, err
	}
	if err := ValidateProduct(p); err != nil {
		return models.LoanProduct{}, err
	}

	release := c.Locks.Lock(lock.Product(p.ID))
	defer release()

	versions, err := c.versions(ctx, p.ID)
	if err != nil {
		return models.LoanProduct{}, err
	}
	p.Version = 1
	if len(versions) > 0 {
		p.Version = versions[len(versions)-1].Version + 1
	}
	now := c.Now()
	p.PublishedAt = now

	b := &repository.Batch{
		Products: []models.LoanProduct{p},
		Audit:    []models.AuditEntry{auditEntry(actor, "product.publish", "product", p.ID, "", now)},
	}
	if err := c.Store.Commit(ctx, b); err != nil {
		return models.LoanProduct{}, err
	}
	c.Log.WithFields(logrus.Fields{"product_id": p.ID, "version": p.Version}).Info("Loan product published")
	return p, nil
}

// Seed publishes the configured products that the store does not know yet.
func (c *Catalog) Seed(ctx context.Context, products []models.LoanProduct) error {
	for _, p := range products {
		versions, err := c.versions(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(versions) > 0 {
			continue
		}
		if _, err := c.Publish(ctx, models.SystemActor, p); err != nil {
			return err
		}
	}
	return nil
}

// Reprice publishes a new version whose interest rate is referenceRate plus margin.
func (c *Catalog) Reprice(ctx context.Context, actor models.Actor, id string, referenceRate, margin decimal.Decimal) (models.LoanProduct, error) {
	if referenceRate.IsNegative() {
		return models.LoanProduct{}, apperr.Validation("reference rate must not be negative")
	}
	cur, err := c.Get(ctx, id)
	if err != nil {
		return models.LoanProduct{}, err
	}
	next := cur
	next.InterestRate = referenceRate.Add(margin).Round(2)
	if next.InterestRate.Equal(cur.InterestRate) {
		return cur, nil
	}
	return c.Publish(ctx, actor, next)
}

// RepriceFromReference fetches the central bank rate and reprices the product.
func (c *Catalog) RepriceFromReference(ctx context.Context, actor models.Actor, id string, margin decimal.Decimal) (models.LoanProduct, error) {
	if c.rates == nil {
		return models.LoanProduct{}, apperr.New(apperr.KindStateConflict, "no reference rate provider configured")
	}
	rate, err := c.rates.KeyRate(ctx)
	if err != nil {
		return models.LoanProduct{}, err
	}
	c.Log.WithFields(logrus.Fields{"product_id": id, "reference_rate": rate.Rate.String(), "margin": margin.String()}).Info("Repricing loan product")
	return c.Reprice(ctx, actor, id, rate.Rate, margin)
}

// ValidateProduct checks a product definition for internal consistency.
func ValidateProduct(p models.LoanProduct) error {
	switch {
	case p.ID == "":
		return apperr.Validation("product id is required")
	case p.Name == "":
		return apperr.Validation("product name is required")
	case !p.MinAmount.IsPositive():
		return apperr.Validation("min_amount must be positive")
	case p.MaxAmount.LessThan(p.MinAmount):
		return apperr.Validation("max_amount must not be below min_amount")
	case p.MinDurationMonths < 1:
		return apperr.Validation("min_duration_months must be at least 1")
	case p.MaxDurationMonths < p.MinDurationMonths:
		return apperr.Validation("max_duration_months must not be below min_duration_months")
	case p.InterestRate.IsNegative():
		return apperr.Validation("interest_rate must not be negative")
	case p.MinGuarantors < 0:
		return apperr.Validation("min_guarantors must not be negative")
	case p.MaxLoanToSavingsRatio.IsNegative():
		return apperr.Validation("max_loan_to_savings_ratio must not be negative")
	case p.GracePeriodDays < 0:
		return apperr.Validation("grace_period_days must not be negative")
	case p.PenaltyRatePerDay.IsNegative():
		return apperr.Validation("penalty_rate_per_day must not be negative")
	case p.MaxConcurrentLoans < 1:
		return apperr.Validation("max_concurrent_loans must be at least 1")
	}
	return nil
}
