package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

// Store is the slice of the waitlist repository the sweeper needs. The
// per-entry calls are conditioned on status=notified, so a booking that lands
// mid-sweep wins the race and the sweep call reports false.
type Store interface {
	ListLapsedOffers(ctx context.Context, now time.Time) ([]model.Entry, error)
	RevertOffer(ctx context.Context, id string) (bool, error)
	ExpireEntry(ctx context.Context, id string) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper retires lapsed offers and expired entries on a fixed cadence.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

func New(store Store, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("waitlist sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce handles each lapsed offer: the entry goes back to the queue while
// it still has waiting time left, and expires otherwise. A failure on one
// entry is logged and does not stop the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.now()

	lapsed, err := s.store.ListLapsedOffers(ctx, now)
	if err != nil {
		return err
	}

	var reverted, offerExpired int64
	for _, e := range lapsed {
		if e.ExpiresAt.After(now) {
			ok, err := s.store.RevertOffer(ctx, e.ID)
			if err != nil {
				s.logger.Error("offer revert failed", "entry_id", e.ID, "err", err)
				continue
			}
			if ok {
				reverted++
			}
		} else {
			ok, err := s.store.ExpireEntry(ctx, e.ID)
			if err != nil {
				s.logger.Error("entry expire failed", "entry_id", e.ID, "err", err)
				continue
			}
			if ok {
				offerExpired++
			}
		}
	}

	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		return err
	}

	if reverted+offerExpired+expired > 0 {
		s.logger.Info("waitlist sweep complete",
			"offers_reverted", reverted,
			"offers_expired", offerExpired,
			"entries_expired", expired)
	}
	return nil
}
