package model

import "time"

type BlockCategory string

const (
	BlockVacation BlockCategory = "vacation"
	BlockPersonal BlockCategory = "personal"
	BlockMedical  BlockCategory = "medical"
	BlockTraining BlockCategory = "training"
	BlockOther    BlockCategory = "other"
)

func (c BlockCategory) Valid() bool {
	switch c {
	case BlockVacation, BlockPersonal, BlockMedical, BlockTraining, BlockOther:
		return true
	}
	return false
}

// BlockedDate marks the therapist unavailable. A full-day block removes
// every slot on Date; a partial block carries a start/end minute-of-day
// range and removes only the overlap.
type BlockedDate struct {
	ID          int64
	Date        time.Time
	Reason      string
	Category    BlockCategory
	FullDay     bool
	StartMinute int // minutes since midnight, partial blocks only
	EndMinute   int
	CreatedAt   time.Time
}
