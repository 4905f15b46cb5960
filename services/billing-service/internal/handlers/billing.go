package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/billing-service/internal/gift"
	"github.com/serenitymassage/bookwell/services/billing-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

const (
	minGiftAmountCents = 1000   // $10
	maxGiftAmountCents = 100000 // $1000

	paymentSucceededTopic = "billing.payment.succeeded.v1"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	stripeSecretKey        string
	now                    func() time.Time
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	StripeSecretKey               string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		now:                    time.Now,
	}
}

type paymentIntentRequest struct {
	AppointmentID       string `json:"appointment_id"`
	GiftCertificateCode string `json:"gift_certificate_code,omitempty"`
}

// CreatePaymentIntent raises a Stripe PaymentIntent for a pending
// appointment. An optional gift certificate code is drawn down first; when
// it covers the whole price the payment settles without touching Stripe.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.GiftCertificateCode = strings.ToUpper(strings.TrimSpace(req.GiftCertificateCode))
	if req.AppointmentID == "" {
		httpx.WriteValidationError(w, map[string]string{"appointment_id": "is required"})
		return
	}

	charge, err := h.repo.GetAppointmentCharge(r.Context(), req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "appointment not found")
			return
		}
		h.logger.Error("appointment lookup failed", "err", err, "appointment_id", req.AppointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load appointment")
		return
	}
	if charge.Status != "pending" {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "appointment is not awaiting payment")
		return
	}
	// A code presented at booking time applies without being repeated here.
	if req.GiftCertificateCode == "" {
		req.GiftCertificateCode = charge.GiftCertificateCode
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	dueCents := charge.PriceCents
	redeemedCents := int64(0)
	certificateID := ""
	if req.GiftCertificateCode != "" {
		redeemed, certID, errStatus, errMsg := h.drawCertificate(r.Context(), tx, req.GiftCertificateCode, dueCents, charge.ID)
		if errStatus != 0 {
			// The expired-status flip inside drawCertificate should survive
			// the rejection.
			_ = tx.Commit(r.Context())
			httpx.WriteError(w, errStatus, httpx.CodeConflict, errMsg)
			return
		}
		redeemedCents = redeemed
		certificateID = certID
		dueCents -= redeemed
	}

	if dueCents == 0 {
		paymentID, err := h.settleCoveredPayment(r.Context(), tx, charge, redeemedCents)
		if err != nil {
			h.logger.Error("covered payment settle failed", "err", err, "appointment_id", charge.ID)
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to record payment")
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"payment_id":     paymentID,
			"status":         "succeeded",
			"amount_cents":   int64(0),
			"redeemed_cents": redeemedCents,
		})
		return
	}

	if h.stripeSecretKey == "" {
		httpx.WriteError(w, http.StatusNotImplemented, httpx.CodeInternal, "stripe payments not configured")
		return
	}
	stripe.Key = h.stripeSecretKey

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(dueCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Metadata: map[string]string{
			"kind":           string(storage.PaymentKindAppointment),
			"appointment_id": charge.ID,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}
	intent, err := paymentintent.New(params)
	if err != nil {
		h.logger.Error("stripe payment intent create failed", "err", err, "appointment_id", charge.ID)
		httpx.WriteError(w, http.StatusBadGateway, httpx.CodeInternal, "failed to create payment intent")
		return
	}

	paymentID, err := h.repo.CreatePayment(r.Context(), tx, storage.Payment{
		Kind:                  storage.PaymentKindAppointment,
		AppointmentID:         charge.ID,
		GiftCertificateID:     certificateID,
		StripePaymentIntentID: intent.ID,
		ClientEmail:           charge.ClientEmail,
		AmountCents:           dueCents,
		Status:                "pending",
	})
	if err != nil {
		h.logger.Error("payment record create failed", "err", err, "appointment_id", charge.ID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to record payment")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"payment_id":     paymentID,
		"status":         "pending",
		"amount_cents":   dueCents,
		"redeemed_cents": redeemedCents,
		"client_secret":  intent.ClientSecret,
	})
}

// drawCertificate locks the certificate and draws up to dueCents from it.
// On rejection it returns a non-zero HTTP status; an expiry discovered here
// is persisted so the returned 409 matches the stored state.
func (h *Handler) drawCertificate(ctx context.Context, tx pgx.Tx, code string, dueCents int64, appointmentID string) (redeemed int64, certificateID string, errStatus int, errMsg string) {
	cert, err := h.repo.GetGiftCertificateForUpdate(ctx, tx, code)
	if err != nil {
		if storage.IsNotFound(err) {
			return 0, "", http.StatusNotFound, "gift certificate not found"
		}
		h.logger.Error("gift certificate lookup failed", "err", err, "code", code)
		return 0, "", http.StatusInternalServerError, "failed to load gift certificate"
	}

	now := h.now()
	if (cert.Status == gift.StatusActive || cert.Status == gift.StatusPartiallyUsed) && !now.Before(cert.ExpiresAt) {
		if err := h.repo.MarkGiftCertificateExpired(ctx, tx, cert.ID); err != nil {
			h.logger.Error("gift certificate expiry update failed", "err", err, "code", code)
		}
		return 0, "", http.StatusConflict, "gift certificate has expired"
	}
	if !cert.Redeemable(now) {
		return 0, "", http.StatusConflict, "gift certificate is not redeemable"
	}

	drawn, remaining, status := cert.Redeem(dueCents)
	if err := h.repo.UpdateGiftCertificateBalance(ctx, tx, cert.ID, remaining, status); err != nil {
		h.logger.Error("gift certificate balance update failed", "err", err, "code", code)
		return 0, "", http.StatusInternalServerError, "failed to redeem gift certificate"
	}
	if err := h.repo.RecordRedemption(ctx, tx, cert.ID, appointmentID, drawn); err != nil {
		h.logger.Error("gift certificate redemption record failed", "err", err, "code", code)
		return 0, "", http.StatusInternalServerError, "failed to redeem gift certificate"
	}
	return drawn, cert.ID, 0, ""
}

// settleCoveredPayment records a payment fully covered by a certificate and
// emits the succeeded event in the same transaction, mirroring what the
// webhook does for card payments.
func (h *Handler) settleCoveredPayment(ctx context.Context, tx pgx.Tx, charge storage.AppointmentCharge, redeemedCents int64) (string, error) {
	paymentID, err := h.repo.CreatePayment(ctx, tx, storage.Payment{
		Kind:                  storage.PaymentKindAppointment,
		AppointmentID:         charge.ID,
		StripePaymentIntentID: "giftcover_" + charge.ID,
		ClientEmail:           charge.ClientEmail,
		AmountCents:           0,
		Status:                "succeeded",
	})
	if err != nil {
		return "", err
	}
	payload, _ := json.Marshal(map[string]any{
		"payment_id":     paymentID,
		"kind":           string(storage.PaymentKindAppointment),
		"appointment_id": charge.ID,
		"client_email":   charge.ClientEmail,
		"amount_cents":   int64(0),
		"redeemed_cents": redeemedCents,
	})
	return paymentID, h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   paymentID,
		EventType:     paymentSucceededTopic,
		Payload:       payload,
	})
}

type purchaseRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	PurchaserName  string `json:"purchaser_name"`
	PurchaserEmail string `json:"purchaser_email"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (req *purchaseRequest) validate() map[string]string {
	fields := map[string]string{}
	req.PurchaserName = strings.TrimSpace(req.PurchaserName)
	req.PurchaserEmail = strings.TrimSpace(req.PurchaserEmail)
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.RecipientEmail = strings.TrimSpace(req.RecipientEmail)
	req.Message = strings.TrimSpace(req.Message)

	if req.AmountCents < minGiftAmountCents || req.AmountCents > maxGiftAmountCents {
		fields["amount_cents"] = "must be between 1000 and 100000"
	}
	if req.PurchaserName == "" {
		fields["purchaser_name"] = "is required"
	}
	if _, err := mail.ParseAddress(req.PurchaserEmail); err != nil {
		fields["purchaser_email"] = "must be a valid email address"
	}
	if req.RecipientEmail != "" {
		if _, err := mail.ParseAddress(req.RecipientEmail); err != nil {
			fields["recipient_email"] = "must be a valid email address"
		}
	}
	if len(req.Message) > 500 {
		fields["message"] = "must be at most 500 characters"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// PurchaseGiftCertificate issues a certificate and raises the Stripe intent
// that pays for it. The certificate is created active right away; a failed
// or abandoned payment leaves a certificate nobody was told the code for.
func (h *Handler) PurchaseGiftCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}
	if h.stripeSecretKey == "" {
		httpx.WriteError(w, http.StatusNotImplemented, httpx.CodeInternal, "stripe payments not configured")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	if fields := req.validate(); fields != nil {
		httpx.WriteValidationError(w, fields)
		return
	}

	now := h.now()
	cert := gift.Certificate{
		Code:           gift.NewCode(),
		AmountCents:    req.AmountCents,
		BalanceCents:   req.AmountCents,
		PurchaserName:  req.PurchaserName,
		PurchaserEmail: req.PurchaserEmail,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		Message:        req.Message,
		Status:         gift.StatusActive,
		ExpiresAt:      now.Add(gift.ValidityPeriod),
	}

	stripe.Key = h.stripeSecretKey
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Metadata: map[string]string{
			"kind":                  string(storage.PaymentKindGiftCertificate),
			"gift_certificate_code": cert.Code,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}
	intent, err := paymentintent.New(params)
	if err != nil {
		h.logger.Error("stripe payment intent create failed", "err", err, "kind", "gift_certificate")
		httpx.WriteError(w, http.StatusBadGateway, httpx.CodeInternal, "failed to create payment intent")
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	certID, err := h.repo.CreateGiftCertificate(r.Context(), tx, cert)
	if err != nil {
		h.logger.Error("gift certificate create failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to create gift certificate")
		return
	}
	paymentID, err := h.repo.CreatePayment(r.Context(), tx, storage.Payment{
		Kind:                  storage.PaymentKindGiftCertificate,
		GiftCertificateID:     certID,
		StripePaymentIntentID: intent.ID,
		ClientEmail:           req.PurchaserEmail,
		AmountCents:           req.AmountCents,
		Status:                "pending",
	})
	if err != nil {
		h.logger.Error("payment record create failed", "err", err, "gift_certificate_id", certID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to record payment")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"gift_certificate_id": certID,
		"code":                cert.Code,
		"amount_cents":        cert.AmountCents,
		"expires_at":          cert.ExpiresAt.UTC().Format(time.RFC3339),
		"payment_id":          paymentID,
		"client_secret":       intent.ClientSecret,
	})
}

// GiftCertificates dispatches the shared path: POST purchases, GET looks up.
func (h *Handler) GiftCertificates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.PurchaseGiftCertificate(w, r)
	case http.MethodGet:
		h.LookupGiftCertificate(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
	}
}

// LookupGiftCertificate returns the public view of a certificate by code.
func (h *Handler) LookupGiftCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		httpx.WriteValidationError(w, map[string]string{"code": "is required"})
		return
	}

	cert, err := h.repo.GetGiftCertificateByCode(r.Context(), code)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "gift certificate not found")
			return
		}
		h.logger.Error("gift certificate lookup failed", "err", err, "code", code)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load gift certificate")
		return
	}

	status := cert.Status
	if (status == gift.StatusActive || status == gift.StatusPartiallyUsed) && !h.now().Before(cert.ExpiresAt) {
		status = gift.StatusExpired
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"code":          cert.Code,
		"amount_cents":  cert.AmountCents,
		"balance_cents": cert.BalanceCents,
		"status":        string(status),
		"expires_at":    cert.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type redeemRequest struct {
	Code          string `json:"code"`
	AmountCents   int64  `json:"amount_cents"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// RedeemGiftCertificate draws an arbitrary amount from a certificate. The
// row lock serializes concurrent redemptions so the balance never goes
// negative.
func (h *Handler) RedeemGiftCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	fields := map[string]string{}
	if req.Code == "" {
		fields["code"] = "is required"
	}
	if req.AmountCents <= 0 {
		fields["amount_cents"] = "must be positive"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	redeemed, _, errStatus, errMsg := h.drawCertificate(r.Context(), tx, req.Code, req.AmountCents, req.AppointmentID)
	if errStatus != 0 {
		_ = tx.Commit(r.Context())
		code := httpx.CodeConflict
		if errStatus == http.StatusNotFound {
			code = httpx.CodeNotFound
		} else if errStatus >= 500 {
			code = httpx.CodeInternal
		}
		httpx.WriteError(w, errStatus, code, errMsg)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	cert, err := h.repo.GetGiftCertificateByCode(r.Context(), req.Code)
	if err != nil {
		h.logger.Error("gift certificate reload failed", "err", err, "code", req.Code)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load gift certificate")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"code":            cert.Code,
		"redeemed_cents":  redeemed,
		"remaining_cents": cert.BalanceCents,
		"status":          string(cert.Status),
	})
}

// ListAppointmentPayments is the staff view of everything charged against
// one appointment.
func (h *Handler) ListAppointmentPayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		httpx.WriteValidationError(w, map[string]string{"appointment_id": "is required"})
		return
	}

	payments, err := h.repo.ListPaymentsForAppointment(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("payment list failed", "err", err, "appointment_id", appointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list payments")
		return
	}

	items := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		items = append(items, map[string]any{
			"payment_id":   p.ID,
			"kind":         string(p.Kind),
			"amount_cents": p.AmountCents,
			"status":       p.Status,
			"created_at":   p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": items})
}
