package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/priority"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/storage"
)

type WaitlistHandler struct {
	repo     *storage.WaitlistRepository
	logger   *slog.Logger
	offerTTL time.Duration
	now      func() time.Time
}

func NewWaitlistHandler(repo *storage.WaitlistRepository, logger *slog.Logger, offerTTL time.Duration) *WaitlistHandler {
	if offerTTL <= 0 {
		offerTTL = 2 * time.Hour
	}
	return &WaitlistHandler{
		repo:     repo,
		logger:   logger,
		offerTTL: offerTTL,
		now:      time.Now,
	}
}

type joinRequest struct {
	ServiceID       string   `json:"service_id"`
	ClientName      string   `json:"client_name"`
	ClientEmail     string   `json:"client_email"`
	ClientPhone     string   `json:"client_phone"`
	PreferredDate   string   `json:"preferred_date"`
	TimeWindowStart string   `json:"time_window_start,omitempty"`
	TimeWindowEnd   string   `json:"time_window_end,omitempty"`
	FlexibleDates   []string `json:"flexible_dates,omitempty"`
	UrgencyLevel    int      `json:"urgency_level"`
	MedicalReasons  string   `json:"medical_reasons,omitempty"`
	MaxWaitDays     int      `json:"max_wait_days,omitempty"`
}

type entryResponse struct {
	EntryID           string             `json:"entry_id"`
	ServiceID         string             `json:"service_id"`
	ClientName        string             `json:"client_name"`
	ClientEmail       string             `json:"client_email"`
	PreferredDate     string             `json:"preferred_date"`
	FlexibleDates     []string           `json:"flexible_dates,omitempty"`
	Priority          string             `json:"priority"`
	UrgencyLevel      int                `json:"urgency_level"`
	Status            string             `json:"status"`
	ExpiresAt         string             `json:"expires_at"`
	NotificationsSent int                `json:"notifications_sent"`
	OfferedSlot       *model.OfferedSlot `json:"offered_slot,omitempty"`
	OfferExpiresAt    string             `json:"offer_expires_at,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

func toEntryResponse(e model.Entry) entryResponse {
	resp := entryResponse{
		EntryID:           e.ID,
		ServiceID:         e.ServiceID,
		ClientName:        e.ClientName,
		ClientEmail:       e.ClientEmail,
		PreferredDate:     e.PreferredDate.Format("2006-01-02"),
		FlexibleDates:     e.FlexibleDates,
		Priority:          string(e.Priority),
		UrgencyLevel:      e.UrgencyLevel,
		Status:            string(e.Status),
		ExpiresAt:         e.ExpiresAt.UTC().Format(time.RFC3339),
		NotificationsSent: e.NotificationsSent,
		OfferedSlot:       e.OfferedSlot,
		CreatedAt:         e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.OfferExpiresAt != nil {
		resp.OfferExpiresAt = e.OfferExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}

	fields := map[string]string{}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	if req.ServiceID == "" {
		fields["service_id"] = "required"
	}
	if req.ClientName == "" {
		fields["client_name"] = "required"
	}
	if _, err := mail.ParseAddress(req.ClientEmail); err != nil {
		fields["client_email"] = "must be a valid email address"
	}
	preferred, err := time.Parse("2006-01-02", strings.TrimSpace(req.PreferredDate))
	if err != nil {
		fields["preferred_date"] = "must be formatted YYYY-MM-DD"
	}
	if req.UrgencyLevel < 0 || req.UrgencyLevel > 10 {
		fields["urgency_level"] = "must be between 1 and 10"
	}

	start, end := -1, -1
	if req.TimeWindowStart != "" || req.TimeWindowEnd != "" {
		start, end, err = parseTimeWindow(req.TimeWindowStart, req.TimeWindowEnd)
		if err != nil {
			fields["time_window_start"] = err.Error()
		}
	}
	for _, d := range req.FlexibleDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			fields["flexible_dates"] = "each date must be formatted YYYY-MM-DD"
			break
		}
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	entry := &model.Entry{
		ServiceID:       req.ServiceID,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientPhone:     req.ClientPhone,
		PreferredDate:   preferred,
		TimeWindowStart: start,
		TimeWindowEnd:   end,
		FlexibleDates:   req.FlexibleDates,
		UrgencyLevel:    req.UrgencyLevel,
		MedicalReasons:  strings.TrimSpace(req.MedicalReasons),
		MaxWaitDays:     req.MaxWaitDays,
	}
	if claims := httpx.ClaimsFromContext(r.Context()); claims != nil {
		entry.UserID = claims.Sub
		entry.MembershipType = claims.Membership
	}
	model.ApplyJoinDefaults(entry)

	id, err := h.repo.Create(r.Context(), entry)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to join waitlist")
		return
	}
	entry.ID = id

	active, err := h.repo.ListActiveByService(r.Context(), entry.ServiceID)
	position := 0
	if err == nil {
		position = priority.Position(*entry, active, h.now())
	}

	h.logger.Info("waitlist joined", "entry_id", id,
		"service_id", entry.ServiceID, "priority", string(entry.Priority))
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"entry":    toEntryResponse(*entry),
		"position": position,
	})
}

func (h *WaitlistHandler) Entries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	email := callerEmail(r)
	if email == "" {
		httpx.WriteValidationError(w, map[string]string{"email": "required"})
		return
	}

	entries, err := h.repo.ListByEmail(r.Context(), email)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list entries")
		return
	}

	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toEntryResponse(e))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *WaitlistHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req struct {
		EntryID string `json:"entry_id"`
		Email   string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.EntryID = strings.TrimSpace(req.EntryID)
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = callerEmail(r)
	}
	fields := map[string]string{}
	if req.EntryID == "" {
		fields["entry_id"] = "required"
	}
	if email == "" {
		fields["email"] = "required"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	cancelled, err := h.repo.CancelOwned(r.Context(), req.EntryID, email)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to cancel entry")
		return
	}
	if !cancelled {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "no open waitlist entry for this email")
		return
	}
	h.logger.Info("waitlist entry cancelled", "entry_id", req.EntryID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entry_id": req.EntryID, "status": "cancelled"})
}

func (h *WaitlistHandler) Position(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	entryID := strings.TrimSpace(r.URL.Query().Get("entry_id"))
	if entryID == "" {
		httpx.WriteValidationError(w, map[string]string{"entry_id": "required"})
		return
	}

	entry, err := h.repo.Get(r.Context(), entryID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "waitlist entry not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load entry")
		return
	}
	if entry.Status != model.StatusActive {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"entry_id": entry.ID,
			"status":   string(entry.Status),
		})
		return
	}

	active, err := h.repo.ListActiveByService(r.Context(), entry.ServiceID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to rank entries")
		return
	}
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entry_id": entry.ID,
		"status":   string(entry.Status),
		"position": priority.Position(entry, active, now),
		"score":    priority.Score(entry, now),
	})
}

// AdminList returns every open entry ranked by score.
func (h *WaitlistHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	entries, err := h.repo.ListOpen(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list entries")
		return
	}

	now := h.now()
	type rankedEntry struct {
		entryResponse
		Score int `json:"score"`
	}
	ranked := priority.Rank(entries, now)
	items := make([]rankedEntry, 0, len(ranked))
	for _, e := range ranked {
		items = append(items, rankedEntry{
			entryResponse: toEntryResponse(e),
			Score:         priority.Score(e, now),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// AdminNotify offers a concrete slot to one entry.
func (h *WaitlistHandler) AdminNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req struct {
		EntryID   string `json:"entry_id"`
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	fields := map[string]string{}
	req.EntryID = strings.TrimSpace(req.EntryID)
	if req.EntryID == "" {
		fields["entry_id"] = "required"
	}
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date)); err != nil {
		fields["date"] = "must be formatted YYYY-MM-DD"
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(req.StartTime)); err != nil {
		fields["start_time"] = "must be formatted HH:MM"
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(req.EndTime)); err != nil {
		fields["end_time"] = "must be formatted HH:MM"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	entry, err := h.repo.Get(r.Context(), req.EntryID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "waitlist entry not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load entry")
		return
	}

	slot := model.OfferedSlot{
		Date:      strings.TrimSpace(req.Date),
		StartTime: strings.TrimSpace(req.StartTime),
		EndTime:   strings.TrimSpace(req.EndTime),
	}
	deadline := h.now().Add(h.offerTTL)
	offered, err := h.repo.OfferSlot(r.Context(), entry, slot, deadline)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to offer slot")
		return
	}
	if !offered {
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "entry is not active")
		return
	}

	h.logger.Info("waitlist slot offered", "entry_id", entry.ID,
		"date", slot.Date, "start", slot.StartTime)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entry_id":         entry.ID,
		"status":           "notified",
		"offered_slot":     slot,
		"offer_expires_at": deadline.UTC().Format(time.RFC3339),
	})
}

func (h *WaitlistHandler) AdminStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	stats, err := h.repo.Statistics(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to compute statistics")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"by_status":          stats.ByStatus,
		"active_medical":     stats.ActiveMedical,
		"avg_active_urgency": stats.AvgActiveUrgency,
	})
}

func callerEmail(r *http.Request) string {
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		return email
	}
	if claims := httpx.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Email
	}
	return ""
}
