package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

type fakeSweepStore struct {
	lapsed   []model.Entry
	reverted []string
	expired  []string
	failFor  string // entry ID whose revert/expire errors
	overdue  int64
}

func (f *fakeSweepStore) ListLapsedOffers(ctx context.Context, now time.Time) ([]model.Entry, error) {
	return f.lapsed, nil
}

func (f *fakeSweepStore) RevertOffer(ctx context.Context, id string) (bool, error) {
	if id == f.failFor {
		return false, errors.New("db down")
	}
	f.reverted = append(f.reverted, id)
	return true, nil
}

func (f *fakeSweepStore) ExpireEntry(ctx context.Context, id string) (bool, error) {
	if id == f.failFor {
		return false, errors.New("db down")
	}
	f.expired = append(f.expired, id)
	return true, nil
}

func (f *fakeSweepStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return f.overdue, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestSweeper(store Store, now time.Time) *Sweeper {
	s := New(store, quietLogger(), time.Minute)
	s.now = func() time.Time { return now }
	return s
}

func lapsedEntry(id string, expiresAt time.Time) model.Entry {
	return model.Entry{ID: id, Status: model.StatusNotified, ExpiresAt: expiresAt}
}

func TestSweepOnce_LapsedOfferGoesBackToQueue(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeSweepStore{lapsed: []model.Entry{
		lapsedEntry("patient", now.Add(10*24*time.Hour)),
	}}
	s := newTestSweeper(store, now)

	if err := s.SweepOnce(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(store.reverted) != 1 || store.reverted[0] != "patient" {
		t.Fatalf("reverted %v, want the patient entry", store.reverted)
	}
	if len(store.expired) != 0 {
		t.Fatalf("expired %v, want none", store.expired)
	}
}

func TestSweepOnce_EntryOutOfWaitingTimeExpires(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeSweepStore{lapsed: []model.Entry{
		lapsedEntry("overdue", now.Add(-time.Hour)),
		lapsedEntry("boundary", now), // exactly out of time, same as overdue
	}}
	s := newTestSweeper(store, now)

	if err := s.SweepOnce(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(store.expired) != 2 {
		t.Fatalf("expired %v, want both entries", store.expired)
	}
	if len(store.reverted) != 0 {
		t.Fatalf("reverted %v, want none", store.reverted)
	}
}

func TestSweepOnce_MixedBatchSplitsByRemainingTime(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeSweepStore{lapsed: []model.Entry{
		lapsedEntry("fresh", now.Add(24*time.Hour)),
		lapsedEntry("spent", now.Add(-time.Minute)),
	}}
	s := newTestSweeper(store, now)

	if err := s.SweepOnce(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(store.reverted) != 1 || store.reverted[0] != "fresh" {
		t.Fatalf("reverted %v, want fresh only", store.reverted)
	}
	if len(store.expired) != 1 || store.expired[0] != "spent" {
		t.Fatalf("expired %v, want spent only", store.expired)
	}
}

func TestSweepOnce_FailureDoesNotStopOthers(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeSweepStore{
		lapsed: []model.Entry{
			lapsedEntry("broken", now.Add(24*time.Hour)),
			lapsedEntry("fine", now.Add(24*time.Hour)),
		},
		failFor: "broken",
	}
	s := newTestSweeper(store, now)

	if err := s.SweepOnce(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(store.reverted) != 1 || store.reverted[0] != "fine" {
		t.Fatalf("reverted %v, want the healthy entry", store.reverted)
	}
}
