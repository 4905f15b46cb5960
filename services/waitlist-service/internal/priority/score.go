package priority

import (
	"sort"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

const medicalBoost = 100

var tierFactor = map[model.Priority]int{
	model.PriorityStandard: 1,
	model.PriorityHigh:     2,
	model.PriorityUrgent:   3,
}

var membershipBonus = map[string]int{
	"wellness":          20,
	"restoration-plus":  30,
	"therapeutic-elite": 50,
}

// Score ranks a waitlist entry. Urgency dominates through the tier factor,
// membership adds a fixed bonus, waiting time adds a point per day, and a
// documented medical need jumps the queue.
func Score(e model.Entry, now time.Time) int {
	factor := tierFactor[e.Priority]
	if factor == 0 {
		factor = 1
	}
	score := e.UrgencyLevel * 10 * factor
	score += membershipBonus[e.MembershipType]
	if days := int(now.Sub(e.CreatedAt).Hours() / 24); days > 0 {
		score += days
	}
	if e.MedicalReasons != "" {
		score += medicalBoost
	}
	return score
}

// Rank orders entries by descending score; equal scores go to whoever has
// waited longest (created_at ascending).
func Rank(entries []model.Entry, now time.Time) []model.Entry {
	ranked := make([]model.Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := Score(ranked[i], now), Score(ranked[j], now)
		if si != sj {
			return si > sj
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	return ranked
}

// Position is 1 plus the number of entries ranked strictly ahead of the
// given entry. Entries tied on score but created later do not count as
// ahead.
func Position(entry model.Entry, entries []model.Entry, now time.Time) int {
	target := Score(entry, now)
	pos := 1
	for _, other := range entries {
		if other.ID == entry.ID {
			continue
		}
		s := Score(other, now)
		if s > target || (s == target && other.CreatedAt.Before(entry.CreatedAt)) {
			pos++
		}
	}
	return pos
}
