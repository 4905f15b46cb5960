package handlers

import (
	"testing"
	"time"

	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
)

func testHandler() *BookingHandler {
	return &BookingHandler{
		policy: Policy{
			Week:            availability.DefaultWeekTemplate(),
			Location:        time.UTC,
			LeadTime:        2 * time.Hour,
			MinCancelNotice: 24 * time.Hour,
			HorizonDays:     60,
		},
	}
}

func TestBookedPayload_CarriesGiftCode(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	appt := model.Appointment{
		ID:                  "appt-1",
		ServiceID:           "svc-1",
		ClientName:          "Dana Reyes",
		ClientEmail:         "dana@example.com",
		Date:                day,
		StartTime:           day.Add(14 * time.Hour),
		EndTime:             day.Add(15 * time.Hour),
		Status:              model.StatusPending,
		PriceCents:          9500,
		GiftCertificateCode: "GIFT-AB12CD34",
	}

	payload := bookedPayload(appt, "Deep Tissue")
	if payload["gift_certificate_code"] != "GIFT-AB12CD34" {
		t.Fatalf("gift_certificate_code = %v, want the booked code", payload["gift_certificate_code"])
	}
	if payload["service_name"] != "Deep Tissue" {
		t.Fatalf("service_name = %v", payload["service_name"])
	}
	if payload["start_time"] != "2026-03-04T14:00:00Z" {
		t.Fatalf("start_time = %v, want UTC RFC3339", payload["start_time"])
	}

	appt.GiftCertificateCode = ""
	payload = bookedPayload(appt, "Deep Tissue")
	if _, ok := payload["gift_certificate_code"]; ok {
		t.Fatal("payload should omit gift_certificate_code when none was presented")
	}
}

func TestCheckSchedulable(t *testing.T) {
	h := testHandler()
	svc := model.Service{DurationMinutes: 60, AdvanceBookingDays: 30}

	// A Wednesday well inside the booking window.
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if msg := h.checkSchedulable(day, 14*60, now, svc); msg != "" {
		t.Fatalf("expected schedulable, got %q", msg)
	}

	cases := []struct {
		name   string
		day    time.Time
		minute int
		now    time.Time
	}{
		{"past date", day.AddDate(0, 0, -7), 14 * 60, now},
		{"beyond advance window", day.AddDate(0, 0, 60), 14 * 60, now},
		{"closed saturday", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), 14 * 60, now},
		{"off-template start", day, 14*60 + 30, now},
		{"same day inside lead time", day, 10 * 60, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if msg := h.checkSchedulable(tc.day, tc.minute, tc.now, svc); msg == "" {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestCheckSchedulable_SameDayOutsideLeadTime(t *testing.T) {
	h := testHandler()
	svc := model.Service{DurationMinutes: 60, AdvanceBookingDays: 30}

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	// 14:00 is five hours out, beyond the two hour lead time.
	if msg := h.checkSchedulable(day, 14*60, now, svc); msg != "" {
		t.Fatalf("expected schedulable, got %q", msg)
	}
}

func TestCheckSchedulable_FallbackHorizon(t *testing.T) {
	h := testHandler()
	svc := model.Service{DurationMinutes: 60} // no per-service window

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	// 2026-04-29 is a Wednesday 58 days out, inside the 60 day fallback.
	day := time.Date(2026, 4, 29, 0, 0, 0, 0, time.UTC)
	if msg := h.checkSchedulable(day, 14*60, now, svc); msg != "" {
		t.Fatalf("expected schedulable, got %q", msg)
	}
	// 2026-05-06 is 65 days out.
	day = time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	if msg := h.checkSchedulable(day, 14*60, now, svc); msg == "" {
		t.Fatal("expected rejection beyond fallback horizon")
	}
}
