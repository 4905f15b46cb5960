package availability

import (
	"testing"
	"time"
)

func TestParseWeekTemplate(t *testing.T) {
	tmpl, err := ParseWeekTemplate("mon=10:00,11:00,12:00; tue=14:00,11:00")
	if err != nil {
		t.Fatalf("ParseWeekTemplate failed: %v", err)
	}
	if got := tmpl[time.Monday]; len(got) != 3 || got[0] != 600 || got[2] != 720 {
		t.Fatalf("unexpected monday template: %v", got)
	}
	// Starts are sorted regardless of input order.
	if got := tmpl[time.Tuesday]; len(got) != 2 || got[0] != 660 || got[1] != 840 {
		t.Fatalf("unexpected tuesday template: %v", got)
	}
	if tmpl.Open(time.Sunday) {
		t.Fatal("unlisted weekday should be closed")
	}
}

func TestParseWeekTemplate_Invalid(t *testing.T) {
	for _, raw := range []string{"monday", "mon=25:00", "xyz=10:00"} {
		if _, err := ParseWeekTemplate(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDefaultWeekTemplate(t *testing.T) {
	tmpl := DefaultWeekTemplate()
	if got := tmpl[time.Monday]; len(got) != 6 || got[0] != 600 || got[5] != 900 {
		t.Fatalf("unexpected monday defaults: %v", got)
	}
	if tmpl.Open(time.Saturday) || tmpl.Open(time.Sunday) {
		t.Fatal("weekend should be closed by default")
	}
}

func TestMinuteOfDayRoundTrip(t *testing.T) {
	m, err := ParseMinuteOfDay("13:30")
	if err != nil {
		t.Fatalf("ParseMinuteOfDay failed: %v", err)
	}
	if m != 810 {
		t.Fatalf("expected 810, got %d", m)
	}
	if got := FormatMinuteOfDay(m); got != "13:30" {
		t.Fatalf("expected 13:30, got %s", got)
	}
}
