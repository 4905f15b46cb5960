package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/billing-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). Gateway should expose this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored",
				"provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		if err := h.applyIntentResult(r.Context(), tx, intent.ID, "succeeded"); err != nil {
			http.Error(w, "failed to apply payment result", http.StatusInternalServerError)
			return
		}

	case "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		status := "failed"
		if evtType == "payment_intent.canceled" {
			status = "canceled"
		}
		if err := h.applyIntentResult(r.Context(), tx, intent.ID, status); err != nil {
			http.Error(w, "failed to apply payment result", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// applyIntentResult settles the payment that raised the intent. Success
// also emits billing.payment.succeeded.v1 in the same transaction, which
// booking-service consumes to confirm the appointment. A failed gift
// certificate purchase cancels the certificate the payment was for.
func (h *Handler) applyIntentResult(ctx context.Context, tx pgx.Tx, intentID, status string) error {
	payment, found, err := h.repo.GetPaymentForUpdate(ctx, tx, intentID)
	if err != nil {
		return err
	}
	if !found {
		// Intents raised outside this system (dashboard tests) are not ours.
		h.logger.Warn("stripe intent has no payment record", "payment_intent_id", intentID)
		return nil
	}

	settled, err := h.repo.SettlePayment(ctx, tx, payment.ID, status)
	if err != nil {
		return err
	}
	if !settled {
		h.logger.Info("payment already settled, webhook ignored",
			"payment_id", payment.ID, "status", payment.Status)
		return nil
	}

	if status != "succeeded" {
		if payment.Kind == storage.PaymentKindGiftCertificate && payment.GiftCertificateID != "" {
			if err := h.repo.CancelGiftCertificate(ctx, tx, payment.GiftCertificateID); err != nil {
				return err
			}
		}
		h.logger.Info("payment settled", "payment_id", payment.ID, "status", status)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"payment_id":          payment.ID,
		"kind":                string(payment.Kind),
		"appointment_id":      payment.AppointmentID,
		"gift_certificate_id": payment.GiftCertificateID,
		"client_email":        payment.ClientEmail,
		"amount_cents":        payment.AmountCents,
	})
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   payment.ID,
		EventType:     paymentSucceededTopic,
		Payload:       payload,
	}); err != nil {
		return err
	}
	h.logger.Info("payment settled", "payment_id", payment.ID, "status", status)
	return nil
}
