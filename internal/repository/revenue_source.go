package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/models"
)

// PostgresRevenueSource sums a content module's revenue table. The table must
// have user_id, streams, downloads, revenue and occurred_at columns.
type PostgresRevenueSource struct {
	db    *sql.DB
	name  string
	query string
}

// NewPostgresRevenueSource builds a source named name over table ("schema.table" or "table").
func NewPostgresRevenueSource(db *sql.DB, name, table string) *PostgresRevenueSource {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(streams), 0), COALESCE(SUM(downloads), 0), COALESCE(SUM(revenue), 0)
		FROM %s
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3`, strings.Join(parts, "."))
	return &PostgresRevenueSource{db: db, name: name, query: query}
}

func (s *PostgresRevenueSource) Name() string { return s.name }

// Totals returns the module totals for userID within period.
func (s *PostgresRevenueSource) Totals(ctx context.Context, userID string, period models.Period) (models.SourceTotals, error) {
	var t models.SourceTotals
	err := s.db.QueryRowContext(ctx, s.query, userID, period.Start, period.End).
		Scan(&t.Streams, &t.Downloads, &t.Revenue)
	if err != nil {
		return models.SourceTotals{}, fmt.Errorf("failed to sum %s revenue: %w", s.name, err)
	}
	return t, nil
}

// StaticRevenueSource serves fixed totals per user; used for development and tests.
type StaticRevenueSource struct {
	name   string
	mu     sync.RWMutex
	totals map[string]models.SourceTotals
}

func NewStaticRevenueSource(name string) *StaticRevenueSource {
	return &StaticRevenueSource{name: name, totals: make(map[string]models.SourceTotals)}
}

func (s *StaticRevenueSource) Name() string { return s.name }

func (s *StaticRevenueSource) Set(userID string, streams, downloads int64, revenue decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[userID] = models.SourceTotals{Streams: streams, Downloads: downloads, Revenue: revenue}
}

func (s *StaticRevenueSource) Totals(_ context.Context, userID string, _ models.Period) (models.SourceTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.totals[userID]
	if !ok {
		return models.SourceTotals{Revenue: decimal.Zero}, nil
	}
	return t, nil
}
