package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/pricing"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/storage"
)

// Policy bundles the studio-level booking rules that apply regardless of
// which service is being booked.
type Policy struct {
	Week            availability.WeekTemplate
	Location        *time.Location
	LeadTime        time.Duration // same-day slots must start at least this far out
	MinCancelNotice time.Duration // clients may self-cancel up to this close to the start
	HorizonDays     int           // fallback when the service has no advance window
}

type BookingHandler struct {
	appts    *storage.AppointmentRepository
	services *storage.ServiceRepository
	blocked  *storage.BlockedDateRepository
	outbox   *outbox.Repository
	logger   *slog.Logger
	policy   Policy
	now      func() time.Time
}

func NewBookingHandler(appts *storage.AppointmentRepository, services *storage.ServiceRepository, blocked *storage.BlockedDateRepository, outboxRepo *outbox.Repository, logger *slog.Logger, policy Policy) *BookingHandler {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.HorizonDays <= 0 {
		policy.HorizonDays = 60
	}
	return &BookingHandler{
		appts:    appts,
		services: services,
		blocked:  blocked,
		outbox:   outboxRepo,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
	}
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	PriceCents    int64  `json:"price_cents"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func toAppointmentResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		ClientName:    appt.ClientName,
		ClientEmail:   appt.ClientEmail,
		Date:          appt.Date.Format("2006-01-02"),
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		PriceCents:    appt.PriceCents,
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !appt.CreatedAt.IsZero() {
		resp.CreatedAt = appt.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	fields, day, startMinute := validateBookRequest(&req, h.policy.Location)
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	ctx := r.Context()
	svc, err := h.services.Get(ctx, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "service not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load service")
		return
	}
	if !svc.Bookable() {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "service is not open for online booking")
		return
	}

	now := h.now().In(h.policy.Location)
	if msg := h.checkSchedulable(day, startMinute, now, svc); msg != "" {
		httpx.WriteValidationError(w, map[string]string{"start_time": msg})
		return
	}

	duration := time.Duration(svc.DurationMinutes) * time.Minute
	slot := availability.Interval{
		Start: day.Add(time.Duration(startMinute) * time.Minute),
		End:   day.Add(time.Duration(startMinute)*time.Minute + duration),
	}

	appt := &model.Appointment{
		ServiceID:           svc.ID,
		ClientName:          req.ClientName,
		ClientEmail:         req.ClientEmail,
		ClientPhone:         req.ClientPhone,
		Date:                day,
		StartTime:           slot.Start,
		EndTime:             slot.End,
		DurationMinutes:     svc.DurationMinutes,
		Status:              model.StatusPending,
		PriceCents:          svc.BasePriceCents,
		Notes:               strings.TrimSpace(req.Notes),
		GiftCertificateCode: req.GiftCertificateCode,
	}
	membership := ""
	if claims := httpx.ClaimsFromContext(ctx); claims != nil {
		appt.UserID = claims.Sub
		membership = claims.Membership
	}
	appt.PriceCents = pricing.MemberPriceCents(svc.BasePriceCents, svc.MembershipDiscount, membership)

	tx, err := h.appts.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.appts.LockDate(ctx, tx, day); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}

	if svc.MaxBookingsPerDay > 0 {
		cnt, err := h.appts.CountBlockingForService(ctx, tx, svc.ID, day)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
			return
		}
		if cnt >= svc.MaxBookingsPerDay {
			httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "daily booking limit reached for this service")
			return
		}
	}

	free, err := h.slotAvailable(ctx, tx, day, slot, "")
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to check availability")
		return
	}
	if !free {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "time slot is no longer available")
		return
	}

	id, err := h.appts.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "time slot is no longer available")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to create appointment")
		return
	}
	appt.ID = id

	payload, err := json.Marshal(bookedPayload(*appt, svc.Name))
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to build event payload")
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     "booking.appointment.booked.v1",
		Payload:       payload,
	}); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	h.logger.Info("appointment booked",
		"appointment_id", id,
		"service", svc.Slug,
		"date", day.Format("2006-01-02"),
		"start", slot.Start.Format("15:04"))
	httpx.WriteJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

// bookedPayload builds the booked event body. The gift certificate code rides
// along so billing can draw it down without a round trip back here.
func bookedPayload(appt model.Appointment, serviceName string) map[string]any {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"service_name":   serviceName,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"client_phone":   appt.ClientPhone,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"price_cents":    appt.PriceCents,
		"status":         string(appt.Status),
	}
	if appt.GiftCertificateCode != "" {
		payload["gift_certificate_code"] = appt.GiftCertificateCode
	}
	return payload
}

// checkSchedulable applies the date-level rules shared by create and
// reschedule. Empty return means the slot start is acceptable; otherwise the
// message describes the violation for the start_time field.
func (h *BookingHandler) checkSchedulable(day time.Time, startMinute int, now time.Time, svc model.Service) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.policy.Location)
	if day.Before(today) {
		return "date is in the past"
	}
	horizon := svc.AdvanceBookingDays
	if horizon <= 0 {
		horizon = h.policy.HorizonDays
	}
	if day.After(today.AddDate(0, 0, horizon)) {
		return "date is beyond the advance booking window"
	}

	tmpl := h.policy.Week[day.Weekday()]
	if len(tmpl) == 0 {
		return "the studio is closed on this day"
	}
	onTemplate := false
	for _, m := range tmpl {
		if m == startMinute {
			onTemplate = true
			break
		}
	}
	if !onTemplate {
		return "start time is not a bookable slot"
	}

	start := day.Add(time.Duration(startMinute) * time.Minute)
	if day.Equal(today) && start.Before(now.Add(h.policy.LeadTime)) {
		return "start time is too soon"
	}
	if start.Before(now) {
		return "start time is in the past"
	}
	return ""
}

// slotAvailable re-checks blocks and blocking appointments inside the
// date-locked transaction. excludeID skips the caller's own appointment on
// reschedule.
func (h *BookingHandler) slotAvailable(ctx context.Context, tx pgx.Tx, day time.Time, slot availability.Interval, excludeID string) (bool, error) {
	blocks, err := h.blocked.ListForDate(ctx, day)
	if err != nil {
		return false, err
	}
	for _, b := range blocks {
		if b.FullDay {
			return false, nil
		}
		window := availability.Interval{
			Start: day.Add(time.Duration(b.StartMinute) * time.Minute),
			End:   day.Add(time.Duration(b.EndMinute) * time.Minute),
		}
		if slot.Overlaps(window) {
			return false, nil
		}
	}

	holders, err := h.appts.BlockingIntervalsTx(ctx, tx, day, excludeID)
	if err != nil {
		return false, err
	}
	busy := make([]availability.Interval, 0, len(holders))
	for _, a := range holders {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}
	return !availability.ConflictsAny(slot, busy), nil
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" {
		httpx.WriteValidationError(w, map[string]string{"appointment_id": "required"})
		return
	}

	ctx := r.Context()
	tx, err := h.appts.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.appts.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "appointment not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load appointment")
		return
	}

	if appt.Status == model.StatusCancelled {
		httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
		return
	}
	if !appt.Status.Blocks() {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "appointment cannot be cancelled")
		return
	}

	claims := httpx.ClaimsFromContext(ctx)
	isStaff := claims != nil && (claims.Role == "admin" || claims.Role == "therapist")
	now := h.now()
	if !isStaff && appt.StartTime.Sub(now) < h.policy.MinCancelNotice {
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.CodeConflict,
			"appointments must be cancelled at least 24 hours in advance; please call the studio")
		return
	}

	cancelledBy := ""
	if claims != nil {
		cancelledBy = claims.Sub
	}
	cancelledAt, err := h.appts.Cancel(ctx, tx, appt.ID, req.Reason, cancelledBy)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to cancel appointment")
		return
	}

	if err := h.emitCancelled(ctx, tx, appt, cancelledAt, req.Reason); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	h.logger.Info("appointment cancelled", "appointment_id", appt.ID, "reason", req.Reason)
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// emitCancelled publishes the freed slot so the waitlist can offer it.
func (h *BookingHandler) emitCancelled(ctx context.Context, tx pgx.Tx, appt model.Appointment, cancelledAt time.Time, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"client_phone":   appt.ClientPhone,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	})
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.cancelled.v1",
		Payload:       payload,
	})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	fields := map[string]string{}
	if req.AppointmentID == "" {
		fields["appointment_id"] = "required"
	}
	day, ok := parseDateField(req.Date, h.policy.Location)
	if !ok {
		fields["date"] = "must be formatted YYYY-MM-DD"
	}
	startMinute, err := availability.ParseMinuteOfDay(strings.TrimSpace(req.StartTime))
	if err != nil {
		fields["start_time"] = "must be formatted HH:MM"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	ctx := r.Context()
	tx, err := h.appts.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.appts.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "appointment not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load appointment")
		return
	}
	if !appt.Status.Blocks() {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "appointment cannot be rescheduled")
		return
	}

	svc, err := h.services.Get(ctx, appt.ServiceID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load service")
		return
	}

	now := h.now().In(h.policy.Location)
	if msg := h.checkSchedulable(day, startMinute, now, svc); msg != "" {
		httpx.WriteValidationError(w, map[string]string{"start_time": msg})
		return
	}

	duration := time.Duration(svc.DurationMinutes) * time.Minute
	slot := availability.Interval{
		Start: day.Add(time.Duration(startMinute) * time.Minute),
		End:   day.Add(time.Duration(startMinute)*time.Minute + duration),
	}

	if err := h.appts.LockDate(ctx, tx, day); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "db error")
		return
	}
	free, err := h.slotAvailable(ctx, tx, day, slot, appt.ID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to check availability")
		return
	}
	if !free {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "time slot is no longer available")
		return
	}

	oldDate, oldStart, oldEnd := appt.Date, appt.StartTime, appt.EndTime
	if err := h.appts.Reschedule(ctx, tx, appt.ID, day, slot.Start, slot.End); err != nil {
		if storage.IsConflict(err) {
			httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "time slot is no longer available")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to reschedule appointment")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"client_phone":   appt.ClientPhone,
		"old_date":       oldDate.Format("2006-01-02"),
		"old_start_time": oldStart.UTC().Format(time.RFC3339),
		"old_end_time":   oldEnd.UTC().Format(time.RFC3339),
		"date":           day.Format("2006-01-02"),
		"start_time":     slot.Start.UTC().Format(time.RFC3339),
		"end_time":       slot.End.UTC().Format(time.RFC3339),
	})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to build event payload")
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.rescheduled.v1",
		Payload:       payload,
	}); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	appt.Date, appt.StartTime, appt.EndTime = day, slot.Start, slot.End
	h.logger.Info("appointment rescheduled", "appointment_id", appt.ID,
		"date", day.Format("2006-01-02"), "start", slot.Start.Format("15:04"))
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		if claims := httpx.ClaimsFromContext(r.Context()); claims != nil {
			email = claims.Email
		}
	}
	if email == "" {
		httpx.WriteValidationError(w, map[string]string{"email": "required"})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.appts.ListByEmail(r.Context(), email, limit)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list appointments")
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentResponse(appt))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
