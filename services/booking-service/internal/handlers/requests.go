package handlers

import (
	"net/mail"
	"strings"
	"time"

	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
)

type bookRequest struct {
	ServiceID           string `json:"service_id"`
	ClientName          string `json:"client_name"`
	ClientEmail         string `json:"client_email"`
	ClientPhone         string `json:"client_phone"`
	Date                string `json:"date"`       // 2006-01-02
	StartTime           string `json:"start_time"` // 15:04
	Notes               string `json:"notes"`
	GiftCertificateCode string `json:"gift_certificate_code"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type blockedDateRequest struct {
	Date      string `json:"date"`
	Reason    string `json:"reason"`
	Category  string `json:"category"`
	FullDay   bool   `json:"full_day"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// validateBookRequest trims the request in place and returns per-field
// problems. An empty map means the request is well formed.
func validateBookRequest(req *bookRequest, loc *time.Location) (map[string]string, time.Time, int) {
	fields := map[string]string{}

	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	req.Date = strings.TrimSpace(req.Date)
	req.StartTime = strings.TrimSpace(req.StartTime)
	req.GiftCertificateCode = strings.ToUpper(strings.TrimSpace(req.GiftCertificateCode))

	if req.ServiceID == "" {
		fields["service_id"] = "required"
	}
	if req.ClientName == "" {
		fields["client_name"] = "required"
	}
	if req.ClientEmail == "" {
		fields["client_email"] = "required"
	} else if _, err := mail.ParseAddress(req.ClientEmail); err != nil {
		fields["client_email"] = "must be a valid email address"
	}
	if req.ClientPhone == "" {
		fields["client_phone"] = "required"
	}

	day, startMinute := time.Time{}, 0
	if req.Date == "" {
		fields["date"] = "required"
	} else if d, err := time.ParseInLocation("2006-01-02", req.Date, loc); err != nil {
		fields["date"] = "must be formatted YYYY-MM-DD"
	} else {
		day = d
	}
	if req.StartTime == "" {
		fields["start_time"] = "required"
	} else if m, err := availability.ParseMinuteOfDay(req.StartTime); err != nil {
		fields["start_time"] = "must be formatted HH:MM"
	} else {
		startMinute = m
	}

	return fields, day, startMinute
}

func parseDateField(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	d, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
