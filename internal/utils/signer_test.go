package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Dan9191/sacco-service/internal/models"
)

func TestSignerVerify(t *testing.T) {
	s := NewSigner("secret")
	tx := models.Transaction{
		ID:           "tx-1",
		AccountID:    "acc-1",
		Type:         models.TxDeposit,
		Amount:       decimal.RequireFromString("1000"),
		BalanceAfter: decimal.RequireFromString("1000"),
		Method:       "cash",
		ActorID:      "m-1",
		ProcessedAt:  time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC),
	}
	tx.Signature = s.Sign(tx)
	assert.True(t, s.Verify(tx))

	// same values as stored by Postgres
	stored := tx
	stored.Amount = decimal.RequireFromString("1000.00")
	stored.ProcessedAt = tx.ProcessedAt.Truncate(time.Microsecond)
	assert.True(t, s.Verify(stored))

	tampered := tx
	tampered.Amount = decimal.RequireFromString("9000")
	assert.False(t, s.Verify(tampered))

	assert.False(t, NewSigner("other").Verify(tx))
}
