package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/storage"
)

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	Date  string     `json:"date"`
	Open  bool       `json:"open"`
	Slots []slotItem `json:"slots"`
}

// Slots returns the bookable openings for one service on one day. A closed
// day reports open=false; a fully booked day reports open=true with an
// empty slot list.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	fields := map[string]string{}
	if serviceID == "" {
		fields["service_id"] = "required"
	}
	day, ok := parseDateField(dateStr, h.policy.Location)
	if !ok {
		fields["date"] = "must be formatted YYYY-MM-DD"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	ctx := r.Context()
	svc, err := h.services.Get(ctx, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "service not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load service")
		return
	}

	resp := slotsResponse{
		Date:  day.Format("2006-01-02"),
		Open:  h.policy.Week.Open(day.Weekday()),
		Slots: []slotItem{},
	}
	if !resp.Open || !svc.Bookable() {
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	blockedDates, err := h.blocked.ListForDate(ctx, day)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load blocked dates")
		return
	}
	blocks := make([]availability.Block, 0, len(blockedDates))
	for _, b := range blockedDates {
		blocks = append(blocks, availability.Block{
			FullDay:     b.FullDay,
			StartMinute: b.StartMinute,
			EndMinute:   b.EndMinute,
		})
	}

	holders, err := h.appts.BlockingIntervals(ctx, day, "")
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load booked slots")
		return
	}
	busy := make([]availability.Interval, 0, len(holders))
	for _, a := range holders {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	duration := time.Duration(svc.DurationMinutes) * time.Minute
	now := h.now().In(h.policy.Location)
	for _, slot := range availability.DaySlots(day, h.policy.Week[day.Weekday()], duration, blocks, busy, now, h.policy.LeadTime) {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: slot.Start.UTC().Format(time.RFC3339),
			EndTime:   slot.End.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type serviceItem struct {
	ServiceID          string         `json:"service_id"`
	Slug               string         `json:"slug"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Category           string         `json:"category"`
	DurationMinutes    int            `json:"duration_minutes"`
	BasePriceCents     int64          `json:"base_price_cents"`
	MembershipDiscount map[string]int `json:"membership_discount_pct,omitempty"`
}

func (h *BookingHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	services, err := h.services.ListBookable(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to list services")
		return
	}

	items := make([]serviceItem, 0, len(services))
	for _, svc := range services {
		items = append(items, toServiceItem(svc))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func toServiceItem(svc model.Service) serviceItem {
	return serviceItem{
		ServiceID:          svc.ID,
		Slug:               svc.Slug,
		Name:               svc.Name,
		Description:        svc.Description,
		Category:           svc.Category,
		DurationMinutes:    svc.DurationMinutes,
		BasePriceCents:     svc.BasePriceCents,
		MembershipDiscount: svc.MembershipDiscount,
	}
}
