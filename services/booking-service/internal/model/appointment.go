package model

import "time"

// Status is the closed set of appointment lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Blocks reports whether an appointment in this state holds its time slot.
// Cancelled, completed and no-show appointments free the slot.
func (s Status) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition enumerates the allowed status moves. Cancellation timestamps
// and reminder flags are one-way; there is no path out of a terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusInProgress || to == StatusCompleted || to == StatusCancelled || to == StatusNoShow
	case StatusInProgress:
		return to == StatusCompleted
	}
	return false
}

type Appointment struct {
	ID              string
	ServiceID       string
	UserID          string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	Date            time.Time // midnight, business timezone
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Status          Status
	PriceCents      int64
	Notes           string

	// GiftCertificateCode is the code the client presented at booking time.
	// Billing draws it down when the payment is created.
	GiftCertificateCode string

	CancelledAt  *time.Time
	CancelReason string
	CancelledBy  string

	DayBeforeReminderSent   bool
	DayBeforeReminderSentAt *time.Time
	DayOfReminderSent       bool
	DayOfReminderSentAt     *time.Time

	CreatedAt time.Time
}
