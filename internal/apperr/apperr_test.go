package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindInsufficientFunds, "available %s", "5000")
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrLimitExceeded))
	assert.Equal(t, "insufficient_funds: available 5000", err.Error())
}

func TestStateConflictFamily(t *testing.T) {
	decided := New(KindAlreadyDecided, "loan already approved")
	assert.True(t, errors.Is(decided, ErrAlreadyDecided))
	assert.True(t, errors.Is(decided, ErrStateConflict))

	stale := New(KindConflict, "version moved")
	assert.True(t, errors.Is(stale, ErrStateConflict))
	assert.False(t, errors.Is(ErrStateConflict, ErrConflict))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("submit loan: %w", Validation("need 2 guarantors"))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
