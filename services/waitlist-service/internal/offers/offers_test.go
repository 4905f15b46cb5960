package offers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

type fakeOfferStore struct {
	candidates []model.Entry
	offered    []string // entry IDs in offer order
	refuse     map[string]bool
	lastSlot   model.OfferedSlot
	deadline   time.Time
}

func (f *fakeOfferStore) ListCandidates(ctx context.Context, serviceID string, date time.Time) ([]model.Entry, error) {
	return f.candidates, nil
}

func (f *fakeOfferStore) OfferSlot(ctx context.Context, entry model.Entry, slot model.OfferedSlot, deadline time.Time) (bool, error) {
	f.offered = append(f.offered, entry.ID)
	f.lastSlot = slot
	f.deadline = deadline
	return !f.refuse[entry.ID], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestOfferer(store OfferStore, loc *time.Location, now time.Time) *Offerer {
	o := New(store, quietLogger(), 2*time.Hour, loc)
	o.now = func() time.Time { return now }
	return o
}

func entry(id string, priority model.Priority, urgency int, created time.Time) model.Entry {
	return model.Entry{
		ID:              id,
		Priority:        priority,
		UrgencyLevel:    urgency,
		TimeWindowStart: -1,
		Status:          model.StatusActive,
		CreatedAt:       created,
	}
}

func freedSlot(start time.Time) FreedSlot {
	return FreedSlot{
		ServiceID: "svc-1",
		Date:      time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func TestHandleFreedSlot_BestScoreGetsFirstRefusal(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeOfferStore{candidates: []model.Entry{
		entry("standard", model.PriorityStandard, 5, now.Add(-48*time.Hour)),
		entry("urgent", model.PriorityUrgent, 5, now.Add(-time.Hour)),
	}}
	o := newTestOfferer(store, time.UTC, now)

	if err := o.HandleFreedSlot(t.Context(), freedSlot(now.Add(24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if len(store.offered) != 1 || store.offered[0] != "urgent" {
		t.Fatalf("offered to %v, want the urgent entry only", store.offered)
	}
	if store.deadline != now.Add(2*time.Hour) {
		t.Fatalf("offer deadline = %v, want now+TTL", store.deadline)
	}
}

func TestHandleFreedSlot_RaceLoserFallsThrough(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeOfferStore{
		candidates: []model.Entry{
			entry("first", model.PriorityUrgent, 8, now.Add(-time.Hour)),
			entry("second", model.PriorityStandard, 3, now.Add(-time.Hour)),
		},
		refuse: map[string]bool{"first": true},
	}
	o := newTestOfferer(store, time.UTC, now)

	if err := o.HandleFreedSlot(t.Context(), freedSlot(now.Add(24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second"}
	if len(store.offered) != 2 || store.offered[0] != want[0] || store.offered[1] != want[1] {
		t.Fatalf("offer order %v, want %v", store.offered, want)
	}
}

func TestHandleFreedSlot_TimeWindowMatchesStudioClock(t *testing.T) {
	// The entry wants mornings, 9:00 to 12:00 studio time. The freed slot
	// starts at 10:00 in Detroit, which is 15:00 UTC; matching against the
	// UTC clock would wrongly skip the entry.
	loc, err := time.LoadLocation("America/Detroit")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	morning := entry("morning", model.PriorityStandard, 5, now.Add(-time.Hour))
	morning.TimeWindowStart = 9 * 60
	morning.TimeWindowEnd = 12 * 60
	store := &fakeOfferStore{candidates: []model.Entry{morning}}
	o := newTestOfferer(store, loc, now)

	start := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	if err := o.HandleFreedSlot(t.Context(), freedSlot(start)); err != nil {
		t.Fatal(err)
	}
	if len(store.offered) != 1 || store.offered[0] != "morning" {
		t.Fatalf("offered to %v, want the morning entry", store.offered)
	}
}

func TestHandleFreedSlot_SlotOutsideWindowSkipped(t *testing.T) {
	loc, err := time.LoadLocation("America/Detroit")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	morning := entry("morning", model.PriorityStandard, 5, now.Add(-time.Hour))
	morning.TimeWindowStart = 9 * 60
	morning.TimeWindowEnd = 12 * 60
	anytime := entry("anytime", model.PriorityStandard, 1, now.Add(-time.Hour))
	store := &fakeOfferStore{candidates: []model.Entry{morning, anytime}}
	o := newTestOfferer(store, loc, now)

	// 19:00 UTC is 14:00 Detroit, past the morning window.
	start := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	if err := o.HandleFreedSlot(t.Context(), freedSlot(start)); err != nil {
		t.Fatal(err)
	}
	if len(store.offered) != 1 || store.offered[0] != "anytime" {
		t.Fatalf("offered to %v, want the unwindowed entry only", store.offered)
	}
}

func TestHandleFreedSlot_NoTakersIsNotAnError(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeOfferStore{}
	o := newTestOfferer(store, time.UTC, now)

	if err := o.HandleFreedSlot(t.Context(), freedSlot(now.Add(24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if len(store.offered) != 0 {
		t.Fatalf("offered to %v, want nobody", store.offered)
	}
}

func TestHandleFreedSlot_OfferedSlotStaysUTCOnTheWire(t *testing.T) {
	loc, err := time.LoadLocation("America/Detroit")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeOfferStore{candidates: []model.Entry{
		entry("e1", model.PriorityStandard, 5, now.Add(-time.Hour)),
	}}
	o := newTestOfferer(store, loc, now)

	start := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	if err := o.HandleFreedSlot(t.Context(), freedSlot(start)); err != nil {
		t.Fatal(err)
	}
	if store.lastSlot.StartTime != "2026-02-02T15:00:00Z" {
		t.Fatalf("slot start on the wire = %q, want UTC RFC3339", store.lastSlot.StartTime)
	}
}
