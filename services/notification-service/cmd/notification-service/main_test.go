package main

import (
	"log/slog"
	"testing"
	"time"
)

func quietTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func detroit(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Detroit")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestFormatClock_RendersStudioLocalTime(t *testing.T) {
	loc := detroit(t)
	// A 10:00 Detroit appointment must read 10:00 whether the event carries
	// the offset or the UTC stamp.
	cases := []struct {
		raw  string
		want string
	}{
		{"2026-02-02T10:00:00-05:00", "10:00"},
		{"2026-02-02T15:00:00Z", "10:00"},
	}
	for _, tc := range cases {
		if got := formatClock(tc.raw, loc); got != tc.want {
			t.Fatalf("formatClock(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestFormatClock_PassesThroughUnparseable(t *testing.T) {
	if got := formatClock("14:30", time.UTC); got != "14:30" {
		t.Fatalf("got %q, want the raw string back", got)
	}
}

func TestFormatStamp_RendersStudioLocalTime(t *testing.T) {
	loc := detroit(t)
	got := formatStamp("2026-02-02T23:30:00Z", loc)
	if got != "2026-02-02 18:30" {
		t.Fatalf("formatStamp = %q, want %q", got, "2026-02-02 18:30")
	}
}

func TestTemplateData_DateCrossesMidnightInStudioZone(t *testing.T) {
	loc := detroit(t)
	// 01:00 UTC on the 3rd is still the evening of the 2nd in Detroit.
	evt := appointmentEvent{
		ClientName:  "Dana",
		ServiceName: "Deep Tissue",
		StartTime:   "2026-02-03T01:00:00Z",
		EndTime:     "2026-02-03T02:00:00Z",
	}
	data := templateData(t.Context(), nil, quietTestLogger(), evt, loc)
	if data.Date != "2026-02-02" {
		t.Fatalf("date = %q, want %q", data.Date, "2026-02-02")
	}
	if data.StartTime != "20:00" || data.EndTime != "21:00" {
		t.Fatalf("times = %q-%q, want 20:00-21:00", data.StartTime, data.EndTime)
	}
}
