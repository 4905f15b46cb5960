package availability

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps implements the half-open overlap rule: [a,b) and [c,d) overlap
// iff a < d && c < b. Back-to-back intervals do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// ConflictsAny reports whether candidate overlaps any busy interval.
func ConflictsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// Block is a therapist-unavailability window projected onto one day.
// A full-day block removes every slot; a partial block removes slots
// overlapping [StartMinute, EndMinute).
type Block struct {
	FullDay     bool
	StartMinute int
	EndMinute   int
}

// DaySlots computes the bookable slots for one calendar day.
//
// day must be midnight in the business timezone. Slots come from the
// weekday template; each slot spans [start, start+duration). A slot is
// dropped when it overlaps a block, overlaps a busy interval (appointments
// with a blocking status), or, on the current day only, starts within
// leadTime of now. Results are chronological.
//
// Pure function of its inputs; an empty result for an open day means
// fully booked, which callers distinguish via WeekTemplate.Open.
func DaySlots(day time.Time, tmpl DayTemplate, duration time.Duration, blocks []Block, busy []Interval, now time.Time, leadTime time.Duration) []Interval {
	if duration <= 0 {
		return nil
	}

	sameDay := now.Year() == day.Year() && now.YearDay() == day.YearDay()
	cutoff := now.Add(leadTime)

	var slots []Interval
	for _, startMin := range tmpl {
		slot := Interval{
			Start: day.Add(time.Duration(startMin) * time.Minute),
			End:   day.Add(time.Duration(startMin)*time.Minute + duration),
		}
		if blockedBy(slot, day, blocks) {
			continue
		}
		if ConflictsAny(slot, busy) {
			continue
		}
		if sameDay && slot.Start.Before(cutoff) {
			continue
		}
		if !sameDay && slot.Start.Before(now) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots
}

func blockedBy(slot Interval, day time.Time, blocks []Block) bool {
	for _, b := range blocks {
		if b.FullDay {
			return true
		}
		window := Interval{
			Start: day.Add(time.Duration(b.StartMinute) * time.Minute),
			End:   day.Add(time.Duration(b.EndMinute) * time.Minute),
		}
		if slot.Overlaps(window) {
			return true
		}
	}
	return false
}
