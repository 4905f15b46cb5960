package scanner

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeStore struct {
	appts    []Appointment
	recorded []string        // "id/kind" in record order
	flags    map[string]bool // "id/kind" -> flipped
	failFor  string          // appointment ID whose RecordDue errors
}

func (f *fakeStore) ListUnreminded(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	return f.appts, nil
}

func (f *fakeStore) RecordDue(ctx context.Context, appt Appointment, kind Kind) (bool, error) {
	if appt.ID == f.failFor {
		return false, errors.New("db down")
	}
	if f.flags == nil {
		f.flags = map[string]bool{}
	}
	key := appt.ID + "/" + string(kind)
	if f.flags[key] {
		return false, nil
	}
	f.flags[key] = true
	f.recorded = append(f.recorded, key)
	return true, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestScanner(store Store, now time.Time) *Scanner {
	s := New(store, nil, quietLogger(), Config{Interval: time.Hour})
	s.now = func() time.Time { return now }
	return s
}

func TestDueDayBefore_WindowBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	w := DefaultWindows()
	cases := []struct {
		name  string
		until time.Duration
		want  bool
	}{
		{"just under 20h", 20*time.Hour - time.Minute, false},
		{"exactly 20h", 20 * time.Hour, true},
		{"mid window", 24 * time.Hour, true},
		{"exactly 28h", 28 * time.Hour, true},
		{"just over 28h", 28*time.Hour + time.Minute, false},
	}
	for _, tc := range cases {
		appt := Appointment{ID: "a1", StartTime: now.Add(tc.until)}
		if got := DueDayBefore(appt, now, w); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDueDayOf_WindowBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	w := DefaultWindows()
	cases := []struct {
		until time.Duration
		want  bool
	}{
		{3*time.Hour - time.Minute, false},
		{3 * time.Hour, true},
		{4 * time.Hour, true},
		{5 * time.Hour, true},
		{5*time.Hour + time.Minute, false},
	}
	for _, tc := range cases {
		appt := Appointment{ID: "a1", StartTime: now.Add(tc.until)}
		if got := DueDayOf(appt, now, w); got != tc.want {
			t.Fatalf("until %s: got %v, want %v", tc.until, got, tc.want)
		}
	}
}

func TestDue_CustomWindows(t *testing.T) {
	// The window numbers are policy, not constants; a studio that texts two
	// days ahead just widens the band.
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	w := Windows{
		DayBeforeMin: 44 * time.Hour,
		DayBeforeMax: 52 * time.Hour,
		DayOfMin:     time.Hour,
		DayOfMax:     2 * time.Hour,
	}
	if DueDayBefore(Appointment{StartTime: now.Add(24 * time.Hour)}, now, w) {
		t.Fatal("24h out should miss a 44-52h band")
	}
	if !DueDayBefore(Appointment{StartTime: now.Add(48 * time.Hour)}, now, w) {
		t.Fatal("48h out should hit a 44-52h band")
	}
	if !DueDayOf(Appointment{StartTime: now.Add(90 * time.Minute)}, now, w) {
		t.Fatal("90m out should hit a 1-2h band")
	}
}

func TestNew_RejectsBrokenWindows(t *testing.T) {
	s := New(&fakeStore{}, nil, quietLogger(), Config{
		Interval: time.Hour,
		Windows:  Windows{DayBeforeMin: 28 * time.Hour, DayBeforeMax: 20 * time.Hour},
	})
	if s.windows != DefaultWindows() {
		t.Fatalf("inverted windows should fall back to defaults, got %+v", s.windows)
	}
}

func TestDue_SentFlagsAreOneWay(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	w := DefaultWindows()
	if DueDayBefore(Appointment{StartTime: now.Add(24 * time.Hour), DayBeforeSent: true}, now, w) {
		t.Fatal("day-before reminder should not repeat")
	}
	if DueDayOf(Appointment{StartTime: now.Add(4 * time.Hour), DayOfSent: true}, now, w) {
		t.Fatal("day-of reminder should not repeat")
	}
}

func TestScanOnce_RecordsDueReminders(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{appts: []Appointment{
		{ID: "tomorrow", Status: "confirmed", StartTime: now.Add(24 * time.Hour)},
		{ID: "soon", Status: "confirmed", StartTime: now.Add(4 * time.Hour)},
		{ID: "next-week", Status: "confirmed", StartTime: now.Add(7 * 24 * time.Hour)},
	}}
	s := newTestScanner(store, now)

	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	want := map[string]bool{"tomorrow/day_before": true, "soon/day_of": true}
	for _, got := range store.recorded {
		if !want[got] {
			t.Fatalf("unexpected reminder %s", got)
		}
		delete(want, got)
	}
	if len(want) != 0 {
		t.Fatalf("missing reminders: %v", want)
	}
}

func TestScanOnce_PendingStillGetsReminded(t *testing.T) {
	// Online bookings start pending until the payment settles; they are still
	// upcoming appointments and still owe both reminders.
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{appts: []Appointment{
		{ID: "unpaid", Status: "pending", StartTime: now.Add(24 * time.Hour)},
	}}
	s := newTestScanner(store, now)

	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if !store.flags["unpaid/day_before"] {
		t.Fatal("pending appointment should get its day-before reminder")
	}
}

func TestScanOnce_SkipsNonRemindableStatuses(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{appts: []Appointment{
		{ID: "gone", Status: "cancelled", StartTime: now.Add(24 * time.Hour)},
		{ID: "done", Status: "completed", StartTime: now.Add(4 * time.Hour)},
	}}
	s := newTestScanner(store, now)

	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("recorded %v, want none", store.recorded)
	}
}

func TestScanOnce_RepeatScanIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{appts: []Appointment{
		{ID: "tomorrow", Status: "confirmed", StartTime: now.Add(24 * time.Hour)},
	}}
	s := newTestScanner(store, now)

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Second scan an hour later sees the flipped flag.
	store.appts[0].DayBeforeSent = true
	s.now = func() time.Time { return now.Add(time.Hour) }
	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Fatalf("second scan sent %d reminders, want 0", sent)
	}
	if len(store.recorded) != 1 {
		t.Fatalf("recorded %d reminders total, want 1", len(store.recorded))
	}
}

func TestScanOnce_StaleListStillSingleSend(t *testing.T) {
	// Even if the candidate list is stale (flag not yet visible), the
	// conditioned RecordDue refuses the second flip.
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{appts: []Appointment{
		{ID: "tomorrow", Status: "confirmed", StartTime: now.Add(24 * time.Hour)},
	}}
	s := newTestScanner(store, now)

	for range 2 {
		if _, err := s.ScanOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.recorded) != 1 {
		t.Fatalf("recorded %d reminders, want 1", len(store.recorded))
	}
}

func TestScanOnce_FailureDoesNotStopOthers(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		appts: []Appointment{
			{ID: "broken", Status: "confirmed", StartTime: now.Add(24 * time.Hour)},
			{ID: "fine", Status: "confirmed", StartTime: now.Add(25 * time.Hour)},
		},
		failFor: "broken",
	}
	s := newTestScanner(store, now)

	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if !store.flags["fine/day_before"] {
		t.Fatal("healthy appointment should still get its reminder")
	}
}
