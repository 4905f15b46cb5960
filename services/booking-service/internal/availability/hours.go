package availability

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DayTemplate lists slot start times for one weekday as minutes since
// midnight, sorted ascending. An empty template means the studio is closed.
type DayTemplate []int

// WeekTemplate is the fixed weekly table of bookable slot starts.
type WeekTemplate map[time.Weekday]DayTemplate

// Open reports whether the weekday has any slots at all, which is distinct
// from a day whose slots are all taken.
func (w WeekTemplate) Open(day time.Weekday) bool {
	return len(w[day]) > 0
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekTemplate parses the BUSINESS_HOURS format:
//
//	mon=10:00,11:00,12:00;tue=11:00,14:00;wed=10:00,11:00
//
// Weekdays not mentioned are closed.
func ParseWeekTemplate(raw string) (WeekTemplate, error) {
	tmpl := WeekTemplate{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid business hours segment %q", part)
		}
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(kv[0]))]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", kv[0])
		}
		var starts DayTemplate
		for _, t := range strings.Split(kv[1], ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			m, err := ParseMinuteOfDay(t)
			if err != nil {
				return nil, fmt.Errorf("invalid start time %q for %s: %w", t, kv[0], err)
			}
			starts = append(starts, m)
		}
		sort.Ints(starts)
		tmpl[day] = starts
	}
	return tmpl, nil
}

// DefaultWeekTemplate mirrors the studio's published hours: hourly starts,
// weekends closed, a short Tuesday.
func DefaultWeekTemplate() WeekTemplate {
	return WeekTemplate{
		time.Monday:    hourly(10, 15),
		time.Tuesday:   DayTemplate{11 * 60, 14 * 60},
		time.Wednesday: hourly(10, 17),
		time.Thursday:  hourly(12, 18),
		time.Friday:    hourly(10, 17),
	}
}

func hourly(firstHour, lastHour int) DayTemplate {
	var starts DayTemplate
	for h := firstHour; h <= lastHour; h++ {
		starts = append(starts, h*60)
	}
	return starts
}

// ParseMinuteOfDay converts "15:04" clock text to minutes since midnight.
func ParseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinuteOfDay renders minutes since midnight as "15:04" clock text.
func FormatMinuteOfDay(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
