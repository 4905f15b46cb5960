package offers

import (
	"context"
	"log/slog"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/priority"
)

// OfferStore is the slice of the waitlist repository the offerer needs.
// OfferSlot is a conditional move from active to notified; ok=false means
// another offer claimed the entry first.
type OfferStore interface {
	ListCandidates(ctx context.Context, serviceID string, date time.Time) ([]model.Entry, error)
	OfferSlot(ctx context.Context, entry model.Entry, slot model.OfferedSlot, deadline time.Time) (bool, error)
}

// Offerer reacts to freed appointment slots by offering them to the
// best-ranked waitlist entry that accepts the date.
type Offerer struct {
	store    OfferStore
	logger   *slog.Logger
	offerTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

// New builds an Offerer. loc is the studio timezone; entry time windows are
// minutes into the studio's day, so slot starts are matched in that zone.
func New(store OfferStore, logger *slog.Logger, offerTTL time.Duration, loc *time.Location) *Offerer {
	if offerTTL <= 0 {
		offerTTL = 2 * time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Offerer{
		store:    store,
		logger:   logger,
		offerTTL: offerTTL,
		loc:      loc,
		now:      time.Now,
	}
}

// FreedSlot describes a slot released by a cancellation.
type FreedSlot struct {
	ServiceID string
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
}

// HandleFreedSlot offers the slot to the top candidate. Entries with a
// preferred time window only take slots inside it. Candidates who lose the
// conditional update (another offer raced in) fall through to the next.
func (o *Offerer) HandleFreedSlot(ctx context.Context, slot FreedSlot) error {
	candidates, err := o.store.ListCandidates(ctx, slot.ServiceID, slot.Date)
	if err != nil {
		return err
	}

	now := o.now()
	localStart := slot.StartTime.In(o.loc)
	startMinute := localStart.Hour()*60 + localStart.Minute()
	offered := model.OfferedSlot{
		Date:      slot.Date.Format("2006-01-02"),
		StartTime: slot.StartTime.UTC().Format(time.RFC3339),
		EndTime:   slot.EndTime.UTC().Format(time.RFC3339),
	}

	for _, entry := range priority.Rank(candidates, now) {
		if entry.TimeWindowStart >= 0 &&
			(startMinute < entry.TimeWindowStart || startMinute >= entry.TimeWindowEnd) {
			continue
		}
		won, err := o.store.OfferSlot(ctx, entry, offered, now.Add(o.offerTTL))
		if err != nil {
			return err
		}
		if won {
			o.logger.Info("freed slot offered to waitlist",
				"entry_id", entry.ID, "service_id", slot.ServiceID,
				"date", offered.Date, "start", offered.StartTime)
			return nil
		}
	}

	o.logger.Info("freed slot had no waitlist takers",
		"service_id", slot.ServiceID, "date", offered.Date)
	return nil
}
