package model

// Service is a bookable treatment from the catalog.
type Service struct {
	ID                 string
	Slug               string
	Name               string
	Description        string
	Category           string
	DurationMinutes    int
	BasePriceCents     int64
	MembershipDiscount map[string]int // membership tier -> discount percent
	MaxBookingsPerDay  int
	AdvanceBookingDays int
	Active             bool
	BookingEnabled     bool
}

func (s Service) Bookable() bool {
	return s.Active && s.BookingEnabled
}
