package handlers

import "testing"

func TestPurchaseRequestValidate_Complete(t *testing.T) {
	req := purchaseRequest{
		AmountCents:    5000,
		PurchaserName:  "  Dana Webb  ",
		PurchaserEmail: "dana@example.com",
		RecipientEmail: "pat@example.com",
		Message:        "Happy birthday",
	}
	if fields := req.validate(); fields != nil {
		t.Fatalf("unexpected validation errors: %v", fields)
	}
	if req.PurchaserName != "Dana Webb" {
		t.Fatalf("purchaser_name not trimmed: %q", req.PurchaserName)
	}
}

func TestPurchaseRequestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		req   purchaseRequest
		field string
	}{
		{"amount too small", purchaseRequest{AmountCents: 500, PurchaserName: "A", PurchaserEmail: "a@b.com"}, "amount_cents"},
		{"amount too large", purchaseRequest{AmountCents: 200000, PurchaserName: "A", PurchaserEmail: "a@b.com"}, "amount_cents"},
		{"missing purchaser name", purchaseRequest{AmountCents: 5000, PurchaserEmail: "a@b.com"}, "purchaser_name"},
		{"bad purchaser email", purchaseRequest{AmountCents: 5000, PurchaserName: "A", PurchaserEmail: "not-an-email"}, "purchaser_email"},
		{"bad recipient email", purchaseRequest{AmountCents: 5000, PurchaserName: "A", PurchaserEmail: "a@b.com", RecipientEmail: "nope"}, "recipient_email"},
	}
	for _, tc := range cases {
		fields := tc.req.validate()
		if fields == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if _, ok := fields[tc.field]; !ok {
			t.Fatalf("%s: expected error on %s, got %v", tc.name, tc.field, fields)
		}
	}
}
