package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/storage"
)

// UpdateStatus moves an appointment through its lifecycle. Moves to
// cancelled go through the cancellation path so the freed slot is announced.
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	target := model.Status(strings.TrimSpace(req.Status))
	fields := map[string]string{}
	if req.AppointmentID == "" {
		fields["appointment_id"] = "required"
	}
	if !target.Valid() {
		fields["status"] = "unknown status"
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

	if appt.Status == target {
		httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
		return
	}
	if !model.CanTransition(appt.Status, target) {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict,
			"cannot move appointment from "+string(appt.Status)+" to "+string(target))
		return
	}

	if target == model.StatusCancelled {
		claims := httpx.ClaimsFromContext(ctx)
		cancelledBy := ""
		if claims != nil {
			cancelledBy = claims.Sub
		}
		cancelledAt, err := h.appts.Cancel(ctx, tx, appt.ID, "cancelled by staff", cancelledBy)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to cancel appointment")
			return
		}
		if err := h.emitCancelled(ctx, tx, appt, cancelledAt, "cancelled by staff"); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to write outbox event")
			return
		}
		appt.CancelledAt = &cancelledAt
	} else if err := h.appts.UpdateStatus(ctx, tx, appt.ID, target); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to update status")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to commit")
		return
	}

	appt.Status = target
	h.logger.Info("appointment status changed", "appointment_id", appt.ID, "status", string(target))
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type blockedDateResponse struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`
	Reason    string `json:"reason,omitempty"`
	Category  string `json:"category"`
	FullDay   bool   `json:"full_day"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

func toBlockedDateResponse(b model.BlockedDate) blockedDateResponse {
	resp := blockedDateResponse{
		ID:       b.ID,
		Date:     b.Date.Format("2006-01-02"),
		Reason:   b.Reason,
		Category: string(b.Category),
		FullDay:  b.FullDay,
	}
	if !b.FullDay {
		resp.StartTime = availability.FormatMinuteOfDay(b.StartMinute)
		resp.EndTime = availability.FormatMinuteOfDay(b.EndMinute)
	}
	return resp
}

func (h *BookingHandler) CreateBlockedDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req blockedDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}

	fields := map[string]string{}
	day, ok := parseDateField(req.Date, h.policy.Location)
	if !ok {
		fields["date"] = "must be formatted YYYY-MM-DD"
	}
	category := model.BlockCategory(strings.TrimSpace(req.Category))
	if category == "" {
		category = model.BlockOther
	}
	if !category.Valid() {
		fields["category"] = "unknown category"
	}

	block := &model.BlockedDate{
		Date:     day,
		Reason:   strings.TrimSpace(req.Reason),
		Category: category,
		FullDay:  req.FullDay,
	}
	if !req.FullDay {
		start, err := availability.ParseMinuteOfDay(strings.TrimSpace(req.StartTime))
		if err != nil {
			fields["start_time"] = "must be formatted HH:MM"
		}
		end, err := availability.ParseMinuteOfDay(strings.TrimSpace(req.EndTime))
		if err != nil {
			fields["end_time"] = "must be formatted HH:MM"
		}
		if len(fields) == 0 && end <= start {
			fields["end_time"] = "must be after start_time"
		}
		block.StartMinute, block.EndMinute = start, end
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	id, err := h.blocked.Create(r.Context(), block)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to create blocked date")
		return
	}
	block.ID = id

	h.logger.Info("blocked date created", "id", id,
		"date", day.Format("2006-01-02"), "category", string(category), "full_day", block.FullDay)
	httpx.WriteJSON(w, http.StatusCreated, toBlockedDateResponse(*block))
}

func (h *BookingHandler) DeleteBlockedDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID <= 0 {
		httpx.WriteValidationError(w, map[string]string{"id": "required"})
		return
	}

	deleted, err := h.blocked.Delete(r.Context(), req.ID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to delete blocked date")
		return
	}
	if !deleted {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "blocked date not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": req.ID, "deleted": true})
}

func (h *BookingHandler) ListBlockedDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	from := h.now().In(h.policy.Location)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		d, ok := parseDateField(raw, h.policy.Location)
		if !ok {
			httpx.WriteValidationError(w, map[string]string{"from": "must be formatted YYYY-MM-DD"})
			return
		}
		from = d
	} else {
		from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, h.policy.Location)
	}

	blocks, err := h.blocked.ListUpcoming(r.Context(), from, 100)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list blocked dates")
		return
	}

	items := make([]blockedDateResponse, 0, len(blocks))
	for _, b := range blocks {
		items = append(items, toBlockedDateResponse(b))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// Schedule lists appointments in a date range for the staff dashboard.
func (h *BookingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	fields := map[string]string{}
	from, ok := parseDateField(r.URL.Query().Get("from"), h.policy.Location)
	if !ok {
		fields["from"] = "must be formatted YYYY-MM-DD"
	}
	to, ok := parseDateField(r.URL.Query().Get("to"), h.policy.Location)
	if !ok {
		fields["to"] = "must be formatted YYYY-MM-DD"
	}
	if len(fields) == 0 && to.Before(from) {
		fields["to"] = "must not be before from"
	}

	status := model.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		fields["status"] = "unknown status"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	limit := 200
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	appts, err := h.appts.ListRange(r.Context(), from, to, status, limit)
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
