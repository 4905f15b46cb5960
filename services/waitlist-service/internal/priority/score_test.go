package priority

import (
	"testing"
	"time"

	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/model"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func entry(id string, p model.Priority, urgency int, membership, medical string, waitingDays int) model.Entry {
	return model.Entry{
		ID:             id,
		Priority:       p,
		UrgencyLevel:   urgency,
		MembershipType: membership,
		MedicalReasons: medical,
		CreatedAt:      testNow.AddDate(0, 0, -waitingDays),
	}
}

func TestScore_Formula(t *testing.T) {
	cases := []struct {
		name string
		e    model.Entry
		want int
	}{
		{"standard baseline", entry("a", model.PriorityStandard, 5, "", "", 0), 50},
		{"high tier doubles", entry("a", model.PriorityHigh, 5, "", "", 0), 100},
		{"urgent tier triples", entry("a", model.PriorityUrgent, 5, "", "", 0), 150},
		{"wellness bonus", entry("a", model.PriorityStandard, 5, "wellness", "", 0), 70},
		{"restoration-plus bonus", entry("a", model.PriorityStandard, 5, "restoration-plus", "", 0), 80},
		{"therapeutic-elite bonus", entry("a", model.PriorityStandard, 5, "therapeutic-elite", "", 0), 100},
		{"days waiting accrue", entry("a", model.PriorityStandard, 5, "", "", 7), 57},
		{"medical boost", entry("a", model.PriorityStandard, 5, "", "post-surgery rehab", 0), 150},
		{"everything", entry("a", model.PriorityUrgent, 10, "therapeutic-elite", "chronic pain", 3), 10*10*3 + 50 + 3 + 100},
	}
	for _, tc := range cases {
		if got := Score(tc.e, testNow); got != tc.want {
			t.Fatalf("%s: score = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRank_DescendingScoreThenOldestFirst(t *testing.T) {
	entries := []model.Entry{
		entry("low", model.PriorityStandard, 2, "", "", 0),
		entry("tied-new", model.PriorityStandard, 5, "", "", 0),
		entry("high", model.PriorityUrgent, 8, "", "", 0),
	}
	tiedOld := entry("tied-old", model.PriorityStandard, 5, "", "", 0)
	tiedOld.CreatedAt = entries[1].CreatedAt.Add(-time.Hour)
	entries = append(entries, tiedOld)

	ranked := Rank(entries, testNow)
	wantOrder := []string{"high", "tied-old", "tied-new", "low"}
	for i, want := range wantOrder {
		if ranked[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, ranked[i].ID, want)
		}
	}
}

func TestPosition_OneBasedStrictlyAhead(t *testing.T) {
	a := entry("a", model.PriorityUrgent, 8, "", "", 0)
	b := entry("b", model.PriorityStandard, 5, "", "", 0)
	c := entry("c", model.PriorityStandard, 5, "", "", 0)
	c.CreatedAt = b.CreatedAt.Add(time.Hour) // ties with b, joined later
	all := []model.Entry{a, b, c}

	if got := Position(a, all, testNow); got != 1 {
		t.Fatalf("a position = %d, want 1", got)
	}
	if got := Position(b, all, testNow); got != 2 {
		t.Fatalf("b position = %d, want 2", got)
	}
	if got := Position(c, all, testNow); got != 3 {
		t.Fatalf("c position = %d, want 3", got)
	}
}

func TestApplyJoinDefaults(t *testing.T) {
	medical := model.Entry{UrgencyLevel: 9, MedicalReasons: "injury recovery"}
	model.ApplyJoinDefaults(&medical)
	if medical.Priority != model.PriorityUrgent {
		t.Fatalf("medical priority = %s, want urgent", medical.Priority)
	}
	if medical.UrgencyLevel != 10 {
		t.Fatalf("medical urgency = %d, want capped 10", medical.UrgencyLevel)
	}

	member := model.Entry{UrgencyLevel: 4, MembershipType: "wellness"}
	model.ApplyJoinDefaults(&member)
	if member.Priority != model.PriorityHigh {
		t.Fatalf("member priority = %s, want high", member.Priority)
	}
	if member.UrgencyLevel != 6 {
		t.Fatalf("member urgency = %d, want 6", member.UrgencyLevel)
	}

	plain := model.Entry{}
	model.ApplyJoinDefaults(&plain)
	if plain.Priority != model.PriorityStandard || plain.UrgencyLevel != 1 {
		t.Fatalf("plain entry defaults = %s/%d", plain.Priority, plain.UrgencyLevel)
	}
	if plain.MaxWaitDays != model.DefaultMaxWaitDays || plain.Status != model.StatusActive {
		t.Fatalf("plain entry wait/status = %d/%s", plain.MaxWaitDays, plain.Status)
	}
}
