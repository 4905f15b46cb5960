package gift

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive        Status = "active"
	StatusPartiallyUsed Status = "partially_used"
	StatusFullyUsed     Status = "fully_used"
	StatusExpired       Status = "expired"
	StatusCancelled     Status = "cancelled"
)

// Certificate is a prepaid balance sold by the studio. Codes are handed to
// the recipient and redeemed against appointment payments until the balance
// runs out or the certificate expires, one year after purchase.
type Certificate struct {
	ID             string
	Code           string
	AmountCents    int64
	BalanceCents   int64
	PurchaserName  string
	PurchaserEmail string
	RecipientName  string
	RecipientEmail string
	Message        string
	Status         Status
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

const ValidityPeriod = 365 * 24 * time.Hour

// NewCode mints a certificate code like GC-3F2A9C1D. Eight hex characters
// from a fresh UUID keep codes short enough to read over the phone.
func NewCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "GC-" + strings.ToUpper(raw[:8])
}

// Redeemable reports whether any balance can be drawn right now.
func (c Certificate) Redeemable(now time.Time) bool {
	if c.Status != StatusActive && c.Status != StatusPartiallyUsed {
		return false
	}
	if !now.Before(c.ExpiresAt) {
		return false
	}
	return c.BalanceCents > 0
}

// Redeem draws up to amountCents from the balance and returns the amount
// actually drawn, the remaining balance, and the resulting status. The
// balance never goes below zero; asking for more than is left drains the
// certificate and the caller covers the difference another way.
func (c Certificate) Redeem(amountCents int64) (redeemed, remaining int64, status Status) {
	if amountCents <= 0 || c.BalanceCents <= 0 {
		return 0, c.BalanceCents, c.Status
	}
	redeemed = amountCents
	if redeemed > c.BalanceCents {
		redeemed = c.BalanceCents
	}
	remaining = c.BalanceCents - redeemed
	if remaining == 0 {
		return redeemed, remaining, StatusFullyUsed
	}
	return redeemed, remaining, StatusPartiallyUsed
}
