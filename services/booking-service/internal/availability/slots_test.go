package availability

import (
	"testing"
	"time"
)

// 2026-02-02 is a Monday.
func monday() time.Time {
	return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
}

func TestDaySlots_MondayTemplateWithBookedSlot(t *testing.T) {
	day := monday()
	tmpl := DefaultWeekTemplate()[time.Monday]

	// Confirmed appointment 11:00-12:00.
	busy := []Interval{
		{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
	}
	now := day.AddDate(0, 0, -7)

	slots := DaySlots(day, tmpl, time.Hour, nil, busy, now, time.Hour)
	want := []int{10, 12, 13, 14, 15}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, h := range want {
		if !slots[i].Start.Equal(day.Add(time.Duration(h) * time.Hour)) {
			t.Fatalf("slot %d: expected %02d:00, got %s", i, h, slots[i].Start.Format("15:04"))
		}
	}
}

func TestDaySlots_FullDayBlockEmptiesDay(t *testing.T) {
	day := monday()
	tmpl := DefaultWeekTemplate()[time.Monday]

	slots := DaySlots(day, tmpl, time.Hour, []Block{{FullDay: true}}, nil, day.AddDate(0, 0, -1), time.Hour)
	if len(slots) != 0 {
		t.Fatalf("expected no slots on fully blocked day, got %d", len(slots))
	}
}

func TestDaySlots_PartialBlockRemovesOnlyOverlap(t *testing.T) {
	day := monday()
	tmpl := DefaultWeekTemplate()[time.Monday]

	// Block 12:30-14:30: overlaps the 12:00, 13:00 and 14:00 slots.
	blocks := []Block{{StartMinute: 12*60 + 30, EndMinute: 14*60 + 30}}
	slots := DaySlots(day, tmpl, time.Hour, blocks, nil, day.AddDate(0, 0, -1), time.Hour)

	want := []int{10, 11, 15}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, h := range want {
		if !slots[i].Start.Equal(day.Add(time.Duration(h) * time.Hour)) {
			t.Fatalf("slot %d: expected %02d:00, got %s", i, h, slots[i].Start.Format("15:04"))
		}
	}
}

func TestDaySlots_LeadTimeCutoffSameDayOnly(t *testing.T) {
	day := monday()
	tmpl := DefaultWeekTemplate()[time.Monday]

	// 10:30 on the same day with a 60 minute lead time: 10:00 is past,
	// 11:00 is inside the lead window, 12:00 onward survive.
	now := day.Add(10*time.Hour + 30*time.Minute)
	slots := DaySlots(day, tmpl, time.Hour, nil, nil, now, time.Hour)
	if len(slots) == 0 || !slots[0].Start.Equal(day.Add(12*time.Hour)) {
		t.Fatalf("expected first slot 12:00, got %v", slots)
	}

	// Same clock reading a day earlier: every slot is offered.
	slots = DaySlots(day, tmpl, time.Hour, nil, nil, now.AddDate(0, 0, -1), time.Hour)
	if len(slots) != len(tmpl) {
		t.Fatalf("expected all %d slots for a future day, got %d", len(tmpl), len(slots))
	}
}

func TestDaySlots_CancelledAppointmentFreesSlot(t *testing.T) {
	day := monday()
	tmpl := DefaultWeekTemplate()[time.Monday]
	now := day.AddDate(0, 0, -7)

	busy := []Interval{{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)}}
	before := DaySlots(day, tmpl, time.Hour, nil, busy, now, time.Hour)

	// Cancellation removes the interval from the busy set entirely.
	after := DaySlots(day, tmpl, time.Hour, nil, nil, now, time.Hour)
	if len(after) != len(before)+1 {
		t.Fatalf("expected cancelled slot to reappear: before=%d after=%d", len(before), len(after))
	}
	if !after[1].Start.Equal(day.Add(11 * time.Hour)) {
		t.Fatalf("expected 11:00 available again, got %s", after[1].Start.Format("15:04"))
	}
}

func TestDaySlots_ClosedDayHasNoSlots(t *testing.T) {
	saturday := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	tmpl := DefaultWeekTemplate()
	if tmpl.Open(time.Saturday) {
		t.Fatal("expected Saturday closed in the default template")
	}
	slots := DaySlots(saturday, tmpl[time.Saturday], time.Hour, nil, nil, saturday.AddDate(0, 0, -1), time.Hour)
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed day, got %d", len(slots))
	}
}

func TestOverlaps_HalfOpenBoundaries(t *testing.T) {
	base := monday().Add(11 * time.Hour)
	existing := Interval{Start: base, End: base.Add(time.Hour)}

	cases := []struct {
		name      string
		candidate Interval
		want      bool
	}{
		{"identical", Interval{base, base.Add(time.Hour)}, true},
		{"contained", Interval{base.Add(15 * time.Minute), base.Add(30 * time.Minute)}, true},
		{"contains", Interval{base.Add(-time.Hour), base.Add(2 * time.Hour)}, true},
		{"overlaps start", Interval{base.Add(-30 * time.Minute), base.Add(30 * time.Minute)}, true},
		{"overlaps end", Interval{base.Add(30 * time.Minute), base.Add(90 * time.Minute)}, true},
		{"abuts before", Interval{base.Add(-time.Hour), base}, false},
		{"abuts after", Interval{base.Add(time.Hour), base.Add(2 * time.Hour)}, false},
		{"disjoint", Interval{base.Add(3 * time.Hour), base.Add(4 * time.Hour)}, false},
	}
	for _, tc := range cases {
		if got := tc.candidate.Overlaps(existing); got != tc.want {
			t.Fatalf("%s: Overlaps=%v, want %v", tc.name, got, tc.want)
		}
		// The predicate is symmetric.
		if got := existing.Overlaps(tc.candidate); got != tc.want {
			t.Fatalf("%s (reversed): Overlaps=%v, want %v", tc.name, got, tc.want)
		}
	}
}
