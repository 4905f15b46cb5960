package pricing

// MemberPriceCents applies a service's membership discount table to its base
// price. Unknown or absent tiers pay the base price; discounts round the
// cent amount down in the client's favor.
func MemberPriceCents(basePriceCents int64, discountPct map[string]int, membership string) int64 {
	if membership == "" || membership == "none" || len(discountPct) == 0 {
		return basePriceCents
	}
	pct, ok := discountPct[membership]
	if !ok || pct <= 0 {
		return basePriceCents
	}
	if pct >= 100 {
		return 0
	}
	discount := basePriceCents * int64(pct) / 100
	return basePriceCents - discount
}
