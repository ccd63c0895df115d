package revenue

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Dan9191/sacco-service/internal/models"
)

// Source is one content module's read-only revenue feed. New modules plug in
// by implementing it; nothing downstream changes.
type Source interface {
	Name() string
	Totals(ctx context.Context, userID string, period models.Period) (models.SourceTotals, error)
}

// Aggregator sums every registered source for a user and period.
type Aggregator struct {
	sources []Source
	log     *logrus.Logger
}

func NewAggregator(log *logrus.Logger, sources ...Source) *Aggregator {
	return &Aggregator{sources: sources, log: log}
}

// SourceNames lists the registered sources in registration order.
func (a *Aggregator) SourceNames() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Aggregate queries all sources concurrently. It takes no entity locks; any
// source failure fails the whole snapshot.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, period models.Period) (models.RevenueSnapshot, error) {
	totals := make([]models.SourceTotals, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			t, err := src.Totals(gctx, userID, period)
			if err != nil {
				return fmt.Errorf("failed to read %s revenue: %w", src.Name(), err)
			}
			if t.Revenue.IsNegative() {
				return fmt.Errorf("source %s reported negative revenue %s", src.Name(), t.Revenue)
			}
			totals[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.WithFields(logrus.Fields{"user_id": userID, "period": period.Name}).Errorf("Revenue aggregation failed: %v", err)
		return models.RevenueSnapshot{}, err
	}

	snap := models.RevenueSnapshot{
		UserID:  userID,
		Period:  period,
		Sources: make(map[string]models.SourceTotals, len(a.sources)),
		Total:   decimal.Zero,
	}
	for i, src := range a.sources {
		snap.Sources[src.Name()] = totals[i]
		snap.Total = snap.Total.Add(totals[i].Revenue)
	}
	snap.Percentages = Percentages(snap.Sources)
	return snap, nil
}

var hundred = decimal.NewFromInt(100)

// Percentages returns each source's share of total revenue at two decimal
// places. When the total is positive the shares sum to exactly 100; the
// rounding remainder goes to the largest source. Otherwise all shares are 0.
func Percentages(sources map[string]models.SourceTotals) map[string]decimal.Decimal {
	names := make([]string, 0, len(sources))
	total := decimal.Zero
	for name, t := range sources {
		names = append(names, name)
		total = total.Add(t.Revenue)
	}
	sort.Strings(names)

	out := make(map[string]decimal.Decimal, len(sources))
	if !total.IsPositive() {
		for _, name := range names {
			out[name] = decimal.Zero
		}
		return out
	}

	sum := decimal.Zero
	largest := ""
	for _, name := range names {
		rev := sources[name].Revenue
		pct := rev.Mul(hundred).Div(total).Round(2)
		out[name] = pct
		sum = sum.Add(pct)
		if largest == "" || rev.GreaterThan(sources[largest].Revenue) {
			largest = name
		}
	}
	out[largest] = out[largest].Add(hundred.Sub(sum))
	return out
}
