package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/reminder-service/internal/scanner"
)

type ReminderRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewReminderRepository(pool *db.Pool, outboxRepo *outbox.Repository) *ReminderRepository {
	return &ReminderRepository{pool: pool, outbox: outboxRepo}
}

// ListUnreminded returns upcoming appointments starting in [from, to] that
// still owe at least one reminder. Pending counts as upcoming, same as
// confirmed; cancelled and completed ones never remind. The status filter
// here and scanner.Remindable are the same rule.
func (r *ReminderRepository) ListUnreminded(ctx context.Context, from, to time.Time) ([]scanner.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.status, s.name, a.client_name, a.client_email, a.client_phone,
			a.start_time, a.end_time,
			a.day_before_reminder_sent, a.day_of_reminder_sent
		FROM appointments a
		JOIN services s ON s.id = a.service_id
		WHERE a.status IN ('pending', 'confirmed')
			AND a.start_time >= $1 AND a.start_time <= $2
			AND (NOT a.day_before_reminder_sent OR NOT a.day_of_reminder_sent)
		ORDER BY a.start_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []scanner.Appointment
	for rows.Next() {
		var appt scanner.Appointment
		if err := rows.Scan(
			&appt.ID, &appt.Status, &appt.ServiceName, &appt.ClientName, &appt.ClientEmail, &appt.ClientPhone,
			&appt.StartTime, &appt.EndTime,
			&appt.DayBeforeSent, &appt.DayOfSent,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// RecordDue flips the per-kind flag and enqueues the due event in one
// transaction. The flip is conditioned on the flag being unset, so a racing
// scan commits nothing and gets false.
func (r *ReminderRepository) RecordDue(ctx context.Context, appt scanner.Appointment, kind scanner.Kind) (bool, error) {
	var flagQuery string
	switch kind {
	case scanner.KindDayBefore:
		flagQuery = `
			UPDATE appointments
			SET day_before_reminder_sent = true, day_before_reminder_sent_at = now()
			WHERE id = $1 AND day_before_reminder_sent = false`
	case scanner.KindDayOf:
		flagQuery = `
			UPDATE appointments
			SET day_of_reminder_sent = true, day_of_reminder_sent_at = now()
			WHERE id = $1 AND day_of_reminder_sent = false`
	default:
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, flagQuery, appt.ID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, tx.Commit(ctx)
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"kind":           string(kind),
		"service_name":   appt.ServiceName,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"client_phone":   appt.ClientPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "reminder.appointment.due.v1",
		Payload:       payload,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

const scanLockKey = "reminder-scan"

// TryScanLock takes the session advisory lock that keeps two replicas from
// scanning at once. The returned release func must be called when the scan
// finishes; ok=false means another replica holds the lock.
func (r *ReminderRepository) TryScanLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, scanLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release = func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, scanLockKey)
		conn.Release()
	}
	return release, true, nil
}
