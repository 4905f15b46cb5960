package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

const entryColumns = `
	id, COALESCE(user_id::text, ''), service_id, client_name, client_email, client_phone,
	preferred_date, COALESCE(time_window_start, -1), COALESCE(time_window_end, -1),
	COALESCE(flexible_dates, '[]'::jsonb),
	priority, urgency_level, COALESCE(membership_type, ''), COALESCE(medical_reasons, ''),
	status, max_wait_days, expires_at, notified_at, notifications_sent,
	offered_slot, offer_expires_at, created_at`

type WaitlistRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewWaitlistRepository(pool *db.Pool, outboxRepo *outbox.Repository) *WaitlistRepository {
	return &WaitlistRepository{pool: pool, outbox: outboxRepo}
}

func (r *WaitlistRepository) Create(ctx context.Context, e *model.Entry) (string, error) {
	flexible, err := json.Marshal(e.FlexibleDates)
	if err != nil {
		return "", err
	}
	var start, end any
	if e.TimeWindowStart >= 0 {
		start, end = e.TimeWindowStart, e.TimeWindowEnd
	}

	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries
			(user_id, service_id, client_name, client_email, client_phone,
			 preferred_date, time_window_start, time_window_end, flexible_dates,
			 priority, urgency_level, membership_type, medical_reasons,
			 status, max_wait_days, expires_at)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			now() + make_interval(days => $15))
		RETURNING id
	`, e.UserID, e.ServiceID, e.ClientName, e.ClientEmail, e.ClientPhone,
		e.PreferredDate, start, end, flexible,
		string(e.Priority), e.UrgencyLevel, e.MembershipType, e.MedicalReasons,
		string(e.Status), e.MaxWaitDays).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *WaitlistRepository) Get(ctx context.Context, id string) (model.Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *WaitlistRepository) ListByEmail(ctx context.Context, email string) ([]model.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE client_email = $1
		ORDER BY created_at DESC
	`, email)
}

// ListActiveByService returns the active entries competing for openings of
// one service. Ranking happens in the priority package.
func (r *WaitlistRepository) ListActiveByService(ctx context.Context, serviceID string) ([]model.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE service_id = $1 AND status = 'active'
		ORDER BY created_at ASC
	`, serviceID)
}

func (r *WaitlistRepository) ListOpen(ctx context.Context) ([]model.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE status IN ('active', 'notified')
		ORDER BY created_at ASC
	`)
}

// ListCandidates returns active entries for a service that accept the given
// date, via preferred_date or the flexible_dates list.
func (r *WaitlistRepository) ListCandidates(ctx context.Context, serviceID string, date time.Time) ([]model.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE service_id = $1 AND status = 'active'
			AND (preferred_date = $2 OR flexible_dates @> jsonb_build_array($3::text))
		ORDER BY created_at ASC
	`, serviceID, date, date.Format("2006-01-02"))
}

// CancelOwned cancels the caller's own entry. Returns false when the entry
// does not exist, belongs to someone else, or is already settled.
func (r *WaitlistRepository) CancelOwned(ctx context.Context, id, email string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries SET status = 'cancelled'
		WHERE id = $1 AND client_email = $2 AND status IN ('active', 'notified')
	`, id, email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// OfferSlot moves an active entry to notified and publishes the offer, all
// in one transaction. The status condition makes concurrent offers for the
// same entry settle to a single winner.
func (r *WaitlistRepository) OfferSlot(ctx context.Context, e model.Entry, slot model.OfferedSlot, deadline time.Time) (bool, error) {
	slotJSON, err := json.Marshal(slot)
	if err != nil {
		return false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'notified',
			notified_at = now(),
			notifications_sent = notifications_sent + 1,
			offered_slot = $2,
			offer_expires_at = $3
		WHERE id = $1 AND status = 'active'
	`, e.ID, slotJSON, deadline)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, tx.Commit(ctx)
	}

	payload, err := json.Marshal(map[string]any{
		"entry_id":         e.ID,
		"service_id":       e.ServiceID,
		"client_name":      e.ClientName,
		"client_email":     e.ClientEmail,
		"client_phone":     e.ClientPhone,
		"slot":             slot,
		"offer_expires_at": deadline.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "waitlist_entry",
		AggregateID:   e.ID,
		EventType:     "waitlist.slot.offered.v1",
		Payload:       payload,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// MarkBooked settles notified entries once the client books the offered
// service. Matched by email since walk-in waitlisters have no account.
func (r *WaitlistRepository) MarkBooked(ctx context.Context, email, serviceID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries SET status = 'booked'
		WHERE client_email = $1 AND service_id = $2 AND status = 'notified'
	`, email, serviceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListLapsedOffers returns notified entries whose offer deadline has passed.
// The sweeper decides per entry whether to revert or expire.
func (r *WaitlistRepository) ListLapsedOffers(ctx context.Context, now time.Time) ([]model.Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE status = 'notified' AND offer_expires_at < $1
		ORDER BY offer_expires_at ASC
	`, now)
}

// RevertOffer returns a notified entry to the queue with its offer cleared.
// Conditioned on status so a booking that lands mid-sweep wins.
func (r *WaitlistRepository) RevertOffer(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'active', offered_slot = NULL, offer_expires_at = NULL
		WHERE id = $1 AND status = 'notified'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireEntry retires a notified entry whose waiting time ran out.
func (r *WaitlistRepository) ExpireEntry(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries SET status = 'expired'
		WHERE id = $1 AND status = 'notified'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdue retires active entries past their expires_at.
func (r *WaitlistRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type Stats struct {
	ByStatus         map[string]int64
	ActiveMedical    int64
	AvgActiveUrgency float64
}

func (r *WaitlistRepository) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: map[string]int64{}}

	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM waitlist_entries GROUP BY status
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = n
	}
	if rows.Err() != nil {
		return stats, rows.Err()
	}

	err = r.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE medical_reasons <> ''),
			COALESCE(avg(urgency_level), 0)
		FROM waitlist_entries
		WHERE status = 'active'
	`).Scan(&stats.ActiveMedical, &stats.AvgActiveUrgency)
	return stats, err
}

func (r *WaitlistRepository) list(ctx context.Context, query string, args ...any) ([]model.Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (model.Entry, error) {
	var e model.Entry
	var priority, status string
	var flexible, offered []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.ServiceID, &e.ClientName, &e.ClientEmail, &e.ClientPhone,
		&e.PreferredDate, &e.TimeWindowStart, &e.TimeWindowEnd, &flexible,
		&priority, &e.UrgencyLevel, &e.MembershipType, &e.MedicalReasons,
		&status, &e.MaxWaitDays, &e.ExpiresAt, &e.NotifiedAt, &e.NotificationsSent,
		&offered, &e.OfferExpiresAt, &e.CreatedAt,
	)
	if err != nil {
		return model.Entry{}, err
	}
	e.Priority = model.Priority(priority)
	e.Status = model.Status(status)
	if len(flexible) > 0 {
		if err := json.Unmarshal(flexible, &e.FlexibleDates); err != nil {
			return model.Entry{}, err
		}
	}
	if len(offered) > 0 {
		var slot model.OfferedSlot
		if err := json.Unmarshal(offered, &slot); err != nil {
			return model.Entry{}, err
		}
		e.OfferedSlot = &slot
	}
	return e, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
