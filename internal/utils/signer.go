package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Dan9191/sacco-service/internal/models"
)

// Signer computes tamper-evidence signatures over journal entries
type Signer struct {
	secret []byte
}

// NewSigner creates a signer keyed with secret
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of the entry's immutable fields
func (s *Signer) Sign(t models.Transaction) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonical(t)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the entry still matches its signature
func (s *Signer) Verify(t models.Transaction) bool {
	want, err := hex.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonical(t)))
	return hmac.Equal(h.Sum(nil), want)
}

// canonical renders amounts at two places and times at microsecond precision
// so entries read back from Postgres verify.
func canonical(t models.Transaction) string {
	return strings.Join([]string{
		t.ID,
		t.AccountID,
		string(t.Type),
		t.Amount.StringFixed(2),
		t.BalanceAfter.StringFixed(2),
		t.Method,
		t.Reference,
		t.ReversalOf,
		t.ActorID,
		t.ProcessedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}, "|")
}
