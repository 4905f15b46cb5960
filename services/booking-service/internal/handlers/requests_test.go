package handlers

import (
	"testing"
	"time"
)

func TestValidateBookRequest_Complete(t *testing.T) {
	req := bookRequest{
		ServiceID:   " svc-1 ",
		ClientName:  " Dana Reyes ",
		ClientEmail: "dana@example.com",
		ClientPhone: "555-0142",
		Date:        "2026-03-02",
		StartTime:   "14:00",
	}
	fields, day, startMinute := validateBookRequest(&req, time.UTC)
	if len(fields) != 0 {
		t.Fatalf("unexpected field errors: %v", fields)
	}
	if req.ServiceID != "svc-1" || req.ClientName != "Dana Reyes" {
		t.Fatalf("expected trimmed fields, got %q %q", req.ServiceID, req.ClientName)
	}
	if got := day.Format("2006-01-02"); got != "2026-03-02" {
		t.Fatalf("day = %s", got)
	}
	if startMinute != 14*60 {
		t.Fatalf("startMinute = %d", startMinute)
	}
}

func TestValidateBookRequest_NormalizesGiftCode(t *testing.T) {
	req := bookRequest{
		ServiceID:           "svc-1",
		ClientName:          "Dana Reyes",
		ClientEmail:         "dana@example.com",
		ClientPhone:         "555-0142",
		Date:                "2026-03-02",
		StartTime:           "14:00",
		GiftCertificateCode: " gift-ab12cd34 ",
	}
	fields, _, _ := validateBookRequest(&req, time.UTC)
	if len(fields) != 0 {
		t.Fatalf("unexpected field errors: %v", fields)
	}
	if req.GiftCertificateCode != "GIFT-AB12CD34" {
		t.Fatalf("gift code = %q, want trimmed and uppercased", req.GiftCertificateCode)
	}
}

func TestValidateBookRequest_MissingAndMalformed(t *testing.T) {
	req := bookRequest{
		ClientEmail: "not-an-email",
		Date:        "03/02/2026",
		StartTime:   "2pm",
	}
	fields, _, _ := validateBookRequest(&req, time.UTC)
	for _, key := range []string{"service_id", "client_name", "client_email", "client_phone", "date", "start_time"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected error for %s, got %v", key, fields)
		}
	}
}
