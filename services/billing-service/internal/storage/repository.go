package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/services/billing-service/internal/gift"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type PaymentKind string

const (
	PaymentKindAppointment     PaymentKind = "appointment"
	PaymentKindGiftCertificate PaymentKind = "gift_certificate"
)

type Payment struct {
	ID                    string
	Kind                  PaymentKind
	AppointmentID         string
	GiftCertificateID     string
	StripePaymentIntentID string
	ClientEmail           string
	AmountCents           int64
	Status                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const paymentColumns = `
	id::text, kind, COALESCE(appointment_id::text, ''), COALESCE(gift_certificate_id::text, ''),
	stripe_payment_intent_id, client_email, amount_cents, status, created_at, updated_at`

func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p Payment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO payments (kind, appointment_id, gift_certificate_id, stripe_payment_intent_id, client_email, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text
	`, string(p.Kind), nullIfEmpty(p.AppointmentID), nullIfEmpty(p.GiftCertificateID),
		p.StripePaymentIntentID, p.ClientEmail, p.AmountCents, p.Status).Scan(&id)
	return id, err
}

// GetPaymentForUpdate locks the payment row while a webhook settles it.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, stripePaymentIntentID string) (Payment, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE stripe_payment_intent_id = $1
		FOR UPDATE
	`, stripePaymentIntentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, err
	}
	return p, true, nil
}

// SettlePayment records the provider verdict. The status guard keeps a
// replayed webhook from flipping an already settled payment.
func (r *Repository) SettlePayment(ctx context.Context, tx pgx.Tx, id, status string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'canceled')
	`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListPaymentsForAppointment(ctx context.Context, appointmentID string) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var kind string
	err := row.Scan(&p.ID, &kind, &p.AppointmentID, &p.GiftCertificateID,
		&p.StripePaymentIntentID, &p.ClientEmail, &p.AmountCents, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Kind = PaymentKind(kind)
	return p, nil
}

// AppointmentCharge is the slice of an appointment billing needs to raise
// a payment intent for it.
type AppointmentCharge struct {
	ID          string
	ClientEmail string
	PriceCents  int64
	Status      string

	// GiftCertificateCode is the code presented at booking time, if any.
	GiftCertificateCode string
}

func (r *Repository) GetAppointmentCharge(ctx context.Context, id string) (AppointmentCharge, error) {
	var c AppointmentCharge
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, client_email, price_cents, status, COALESCE(gift_certificate_code, '')
		FROM appointments
		WHERE id = $1
	`, id).Scan(&c.ID, &c.ClientEmail, &c.PriceCents, &c.Status, &c.GiftCertificateCode)
	return c, err
}

const certificateColumns = `
	id::text, code, amount_cents, balance_cents,
	purchaser_name, purchaser_email, COALESCE(recipient_name, ''), COALESCE(recipient_email, ''),
	COALESCE(message, ''), status, expires_at, created_at`

func (r *Repository) CreateGiftCertificate(ctx context.Context, tx pgx.Tx, c gift.Certificate) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO gift_certificates
			(code, amount_cents, balance_cents, purchaser_name, purchaser_email,
			 recipient_name, recipient_email, message, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text
	`, c.Code, c.AmountCents, c.BalanceCents, c.PurchaserName, c.PurchaserEmail,
		nullIfEmpty(c.RecipientName), nullIfEmpty(c.RecipientEmail), nullIfEmpty(c.Message),
		string(c.Status), c.ExpiresAt).Scan(&id)
	return id, err
}

func (r *Repository) GetGiftCertificateByCode(ctx context.Context, code string) (gift.Certificate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM gift_certificates WHERE code = $1`, code)
	return scanCertificate(row)
}

func (r *Repository) GetGiftCertificateForUpdate(ctx context.Context, tx pgx.Tx, code string) (gift.Certificate, error) {
	row := tx.QueryRow(ctx, `SELECT `+certificateColumns+` FROM gift_certificates WHERE code = $1 FOR UPDATE`, code)
	return scanCertificate(row)
}

func (r *Repository) UpdateGiftCertificateBalance(ctx context.Context, tx pgx.Tx, id string, balanceCents int64, status gift.Status) error {
	_, err := tx.Exec(ctx, `
		UPDATE gift_certificates
		SET balance_cents = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, id, balanceCents, string(status))
	return err
}

// CancelGiftCertificate voids a certificate whose purchase never settled.
func (r *Repository) CancelGiftCertificate(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE gift_certificates
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id)
	return err
}

func (r *Repository) MarkGiftCertificateExpired(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE gift_certificates
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status IN ('active', 'partially_used')
	`, id)
	return err
}

// RecordRedemption keeps the per-draw history that reconciles a certificate
// balance against the appointments it paid for.
func (r *Repository) RecordRedemption(ctx context.Context, tx pgx.Tx, certificateID, appointmentID string, amountCents int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO gift_certificate_redemptions (gift_certificate_id, appointment_id, amount_cents)
		VALUES ($1, $2, $3)
	`, certificateID, nullIfEmpty(appointmentID), amountCents)
	return err
}

func scanCertificate(row pgx.Row) (gift.Certificate, error) {
	var c gift.Certificate
	var status string
	err := row.Scan(
		&c.ID, &c.Code, &c.AmountCents, &c.BalanceCents,
		&c.PurchaserName, &c.PurchaserEmail, &c.RecipientName, &c.RecipientEmail,
		&c.Message, &status, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return gift.Certificate{}, err
	}
	c.Status = gift.Status(status)
	return c, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep raw JSON error as a hard failure: webhook should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
