package gift

import (
	"strings"
	"testing"
	"time"
)

func TestNewCode_Format(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		code := NewCode()
		if !strings.HasPrefix(code, "GC-") || len(code) != 11 {
			t.Fatalf("unexpected code %q", code)
		}
		if code != strings.ToUpper(code) {
			t.Fatalf("code %q not uppercase", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
}

func TestRedeem_PartialThenFull(t *testing.T) {
	cert := Certificate{AmountCents: 10000, BalanceCents: 10000, Status: StatusActive}

	redeemed, remaining, status := cert.Redeem(3500)
	if redeemed != 3500 || remaining != 6500 || status != StatusPartiallyUsed {
		t.Fatalf("partial redeem = %d/%d/%s", redeemed, remaining, status)
	}

	cert.BalanceCents, cert.Status = remaining, status
	redeemed, remaining, status = cert.Redeem(6500)
	if redeemed != 6500 || remaining != 0 || status != StatusFullyUsed {
		t.Fatalf("full redeem = %d/%d/%s", redeemed, remaining, status)
	}
}

func TestRedeem_NeverBelowZero(t *testing.T) {
	cert := Certificate{BalanceCents: 2000, Status: StatusPartiallyUsed}
	redeemed, remaining, status := cert.Redeem(5000)
	if redeemed != 2000 || remaining != 0 || status != StatusFullyUsed {
		t.Fatalf("overdraw = %d/%d/%s", redeemed, remaining, status)
	}
}

func TestRedeem_NonPositiveAmountIsNoop(t *testing.T) {
	cert := Certificate{BalanceCents: 2000, Status: StatusActive}
	redeemed, remaining, status := cert.Redeem(0)
	if redeemed != 0 || remaining != 2000 || status != StatusActive {
		t.Fatalf("noop redeem = %d/%d/%s", redeemed, remaining, status)
	}
}

func TestRedeemable(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		cert Certificate
		want bool
	}{
		{"active with balance", Certificate{Status: StatusActive, BalanceCents: 100, ExpiresAt: future}, true},
		{"partially used", Certificate{Status: StatusPartiallyUsed, BalanceCents: 50, ExpiresAt: future}, true},
		{"fully used", Certificate{Status: StatusFullyUsed, BalanceCents: 0, ExpiresAt: future}, false},
		{"cancelled", Certificate{Status: StatusCancelled, BalanceCents: 100, ExpiresAt: future}, false},
		{"past expiry", Certificate{Status: StatusActive, BalanceCents: 100, ExpiresAt: past}, false},
		{"expires exactly now", Certificate{Status: StatusActive, BalanceCents: 100, ExpiresAt: now}, false},
	}
	for _, tc := range cases {
		if got := tc.cert.Redeemable(now); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
