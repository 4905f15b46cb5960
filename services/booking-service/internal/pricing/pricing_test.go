package pricing

import "testing"

func TestMemberPriceCents(t *testing.T) {
	discounts := map[string]int{
		"wellness":          15,
		"restoration-plus":  20,
		"therapeutic-elite": 25,
	}

	cases := []struct {
		membership string
		want       int64
	}{
		{"none", 12000},
		{"", 12000},
		{"wellness", 10200},
		{"restoration-plus", 9600},
		{"therapeutic-elite", 9000},
		{"unknown-tier", 12000},
	}
	for _, tc := range cases {
		if got := MemberPriceCents(12000, discounts, tc.membership); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.membership, got, tc.want)
		}
	}
}

func TestMemberPriceCents_RoundsDown(t *testing.T) {
	// 15% of $99.99 is 1499.85 cents; the client keeps the fraction.
	if got := MemberPriceCents(9999, map[string]int{"wellness": 15}, "wellness"); got != 9999-1499 {
		t.Fatalf("got %d", got)
	}
}

func TestMemberPriceCents_FullDiscountClampsToZero(t *testing.T) {
	if got := MemberPriceCents(5000, map[string]int{"wellness": 100}, "wellness"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
