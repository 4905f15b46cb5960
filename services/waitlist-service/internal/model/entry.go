package model

import "time"

// Priority is the coarse tier a waitlist entry sits in. The fine-grained
// ordering inside a tier comes from the computed score.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
)

func (p Priority) Valid() bool {
	return p == PriorityStandard || p == PriorityHigh || p == PriorityUrgent
}

type Status string

const (
	StatusActive    Status = "active"
	StatusNotified  Status = "notified" // holds an open slot offer
	StatusBooked    Status = "booked"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// OfferedSlot is the concrete opening held for a notified entry.
type OfferedSlot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Entry struct {
	ID          string
	UserID      string
	ServiceID   string
	ClientName  string
	ClientEmail string
	ClientPhone string

	PreferredDate   time.Time
	TimeWindowStart int // minutes since midnight; -1 when no window
	TimeWindowEnd   int
	FlexibleDates   []string // additional acceptable dates, YYYY-MM-DD

	Priority       Priority
	UrgencyLevel   int // 1..10
	MembershipType string
	MedicalReasons string

	Status            Status
	MaxWaitDays       int
	ExpiresAt         time.Time
	NotifiedAt        *time.Time
	NotificationsSent int
	OfferedSlot       *OfferedSlot
	OfferExpiresAt    *time.Time
	CreatedAt         time.Time
}

const DefaultMaxWaitDays = 30

// ApplyJoinDefaults normalizes a new entry the way the front desk triages a
// call-in: medical need outranks membership, both bump urgency.
func ApplyJoinDefaults(e *Entry) {
	if !e.Priority.Valid() {
		e.Priority = PriorityStandard
	}
	if e.UrgencyLevel < 1 {
		e.UrgencyLevel = 1
	}
	if e.UrgencyLevel > 10 {
		e.UrgencyLevel = 10
	}

	if e.MedicalReasons != "" {
		e.Priority = PriorityUrgent
		e.UrgencyLevel = min(e.UrgencyLevel+3, 10)
	} else if e.MembershipType != "" && e.MembershipType != "none" {
		if e.Priority != PriorityUrgent {
			e.Priority = PriorityHigh
		}
		e.UrgencyLevel = min(e.UrgencyLevel+2, 10)
	}

	if e.MaxWaitDays <= 0 {
		e.MaxWaitDays = DefaultMaxWaitDays
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
}
