package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/models"
)

const sample = `
version: "2026-10"
timezone: UTC
ledger:
  max_daily_withdrawals: 2
  method_daily_limits:
    mobile_money: "1000000"
    bank: "9000000"
  min_balances:
    savings: "10000"
credits:
  category_caps:
    listening: "60"
  daily_bonus: "7.5"
products:
  - id: boost
    name: Artist Boost
    min_amount: "100000"
    max_amount: "5000000"
    min_duration_months: 1
    max_duration_months: 12
    interest_rate: "18"
    min_guarantors: 2
    requires_collateral: false
    max_loan_to_savings_ratio: "3"
    grace_period_days: 7
    penalty_rate_per_day: "0.1"
    max_concurrent_loans: 1
`

func TestParseOverlaysDefaults(t *testing.T) {
	rs, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "2026-10", rs.Version)
	assert.Equal(t, time.UTC, rs.Location)
	assert.Equal(t, 2, rs.Ledger.MaxDailyWithdrawals)
	assert.True(t, rs.MinBalance(models.AccountSavings).Equal(decimal.NewFromInt(10000)))

	limit, ok := rs.MethodLimit("bank")
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(9000000)))

	capv, ok := rs.CategoryCap("listening")
	require.True(t, ok)
	assert.True(t, capv.Equal(decimal.NewFromInt(60)))
	social, _ := rs.CategoryCap("social")
	assert.True(t, social.Equal(decimal.NewFromInt(30)), "unset caps keep defaults")
	assert.Equal(t, "7.5", rs.Credits.DailyBonus.String())

	require.Len(t, rs.Products, 1)
	assert.Equal(t, "boost", rs.Products[0].ID)
	assert.Equal(t, 2, rs.Products[0].MinGuarantors)
	assert.Equal(t, "0.1", rs.Products[0].PenaltyRatePerDay.String())
}

func TestParseRejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("ledger:\n  min_deposit: abc\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("ledger:\n  min_balances:\n    checking: \"1\"\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("credits:\n  daily_bonus: \"-1\"\n"))
	assert.Error(t, err)
}

func TestProviderReplaceDoesNotAffectHeldSnapshot(t *testing.T) {
	p := NewProvider(Default())
	held := p.Current()

	next := Default()
	next.Version = "next"
	p.Replace(next)

	assert.Equal(t, "default", held.Version)
	assert.Equal(t, "next", p.Current().Version)
}

func TestDayUsesRuleTimezone(t *testing.T) {
	rs := Default()
	rs.Location = time.FixedZone("EAT", 3*60*60)
	late := time.Date(2026, 10, 19, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-20", rs.Day(late))
}
