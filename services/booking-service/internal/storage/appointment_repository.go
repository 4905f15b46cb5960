package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
)

const appointmentColumns = `
	id, service_id, COALESCE(user_id::text, ''), client_name, client_email, client_phone,
	appointment_date, start_time, end_time, duration_minutes, status, price_cents,
	COALESCE(notes, ''), COALESCE(gift_certificate_code, ''),
	cancelled_at, COALESCE(cancellation_reason, ''), COALESCE(cancelled_by::text, ''),
	day_before_reminder_sent, day_before_reminder_sent_at,
	day_of_reminder_sent, day_of_reminder_sent_at,
	created_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockDate serializes bookers for one calendar day. Two transactions taking
// the same date lock cannot both pass the conflict check against a stale
// read; the lock releases at commit/rollback.
func (r *AppointmentRepository) LockDate(ctx context.Context, tx pgx.Tx, date time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('appointments:' || $1::text))`,
		date.Format("2006-01-02"))
	return err
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(service_id, user_id, client_name, client_email, client_phone,
			 appointment_date, start_time, end_time, duration_minutes, status, price_cents, notes,
			 gift_certificate_code)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))
		RETURNING id
	`, appt.ServiceID, appt.UserID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.Date, appt.StartTime, appt.EndTime, appt.DurationMinutes, string(appt.Status),
		appt.PriceCents, appt.Notes, appt.GiftCertificateCode).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

// BlockingIntervals returns the time ranges held by pending/confirmed
// appointments on date, optionally excluding one appointment (reschedule
// checks skip the appointment's own prior record).
func (r *AppointmentRepository) BlockingIntervals(ctx context.Context, date time.Time, excludeID string) ([]model.Appointment, error) {
	return blockingIntervals(ctx, r.pool, date, excludeID)
}

// BlockingIntervalsTx is the transactional variant used by the booking path
// after LockDate, so the conflict check and the insert see the same state.
func (r *AppointmentRepository) BlockingIntervalsTx(ctx context.Context, tx pgx.Tx, date time.Time, excludeID string) ([]model.Appointment, error) {
	return blockingIntervals(ctx, tx, date, excludeID)
}

func blockingIntervals(ctx context.Context, q queryer, date time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1
			AND status IN ('pending', 'confirmed')
			AND ($2 = '' OR id::text <> $2)
		ORDER BY start_time ASC
	`, date, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) CountBlockingForService(ctx context.Context, tx pgx.Tx, serviceID string, date time.Time) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM appointments
		WHERE service_id = $1 AND appointment_date = $2 AND status IN ('pending', 'confirmed')
	`, serviceID, date).Scan(&n)
	return n, err
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason, cancelledBy string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2,
			cancelled_by = NULLIF($3, '')::uuid
		WHERE id = $1
		RETURNING cancelled_at
	`, id, reason, cancelledBy).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, tx pgx.Tx, id string, date, start, end time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2, start_time = $3, end_time = $4
		WHERE id = $1
	`, id, date, start, end)
	return err
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status) error {
	_, err := tx.Exec(ctx, `UPDATE appointments SET status = $2 WHERE id = $1`, id, string(status))
	return err
}

// ConfirmPaid flips a pending appointment to confirmed. Returns false when
// the appointment is no longer pending (cancelled before the payment
// settled, or already confirmed by a duplicate event).
func (r *AppointmentRepository) ConfirmPaid(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET status = 'confirmed'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AppointmentRepository) ListByEmail(ctx context.Context, email string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_email = $1
		ORDER BY appointment_date DESC, start_time DESC
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) ListRange(ctx context.Context, from, to time.Time, status model.Status, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date >= $1 AND appointment_date <= $2
			AND ($3 = '' OR status = $3)
		ORDER BY appointment_date ASC, start_time ASC
		LIMIT $4
	`, from, to, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.ServiceID,
		&appt.UserID,
		&appt.ClientName,
		&appt.ClientEmail,
		&appt.ClientPhone,
		&appt.Date,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMinutes,
		&status,
		&appt.PriceCents,
		&appt.Notes,
		&appt.GiftCertificateCode,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CancelledBy,
		&appt.DayBeforeReminderSent,
		&appt.DayBeforeReminderSentAt,
		&appt.DayOfReminderSent,
		&appt.DayOfReminderSentAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	return appt, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
