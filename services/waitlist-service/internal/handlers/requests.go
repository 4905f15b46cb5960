package handlers

import (
	"errors"
	"strings"
	"time"
)

// parseTimeWindow parses an optional preferred time-of-day window. Both ends
// must be present and ordered.
func parseTimeWindow(startRaw, endRaw string) (start, end int, err error) {
	start, err = minuteOfDay(startRaw)
	if err != nil {
		return 0, 0, errors.New("must be formatted HH:MM")
	}
	end, err = minuteOfDay(endRaw)
	if err != nil {
		return 0, 0, errors.New("window end must be formatted HH:MM")
	}
	if end <= start {
		return 0, 0, errors.New("window end must be after window start")
	}
	return start, end, nil
}

func minuteOfDay(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
