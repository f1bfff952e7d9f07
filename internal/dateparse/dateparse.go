// Package dateparse reads the days and start times typed at reception:
// "tomorrow 16:30", "friday 10:00", "+2d 09:15", "2026-03-02 10:00" or a bare
// "15:04" for today. Times without a zone are in the caller's location.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// ParseDay returns midnight in loc of the day named by input.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Keywords: "today", "tomorrow"
//   - Relative days: "+3d"
//   - Relative weeks: "+1w"
//   - Day names: "monday", "tuesday", etc. (next occurrence, never today)
func ParseDay(input string, now time.Time, loc *time.Location) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	today := StartOfDay(now, loc)

	if t, err := time.ParseInLocation("2006-01-02", input, loc); err == nil {
		return t, nil
	}

	switch input {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if strings.HasPrefix(input, "+") && len(input) >= 3 {
		suffix := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch suffix {
			case 'd':
				return today.AddDate(0, 0, n), nil
			case 'w':
				return today.AddDate(0, 0, n*7), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d or w)", string(suffix), input)
			}
		}
	}

	if target, ok := dayNames[input]; ok {
		ahead := (int(target) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", input)
}

// ParseWhen returns the start time named by input: an RFC 3339 timestamp,
// "2006-01-02 15:04", "15:04" for today, or "<day> 15:04" with any day
// ParseDay accepts.
func ParseWhen(input string, now time.Time, loc *time.Location) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, input, loc); err == nil {
			return t, nil
		}
	}

	day := StartOfDay(now, loc)
	clock := input
	if i := strings.LastIndexByte(input, ' '); i > 0 {
		d, err := ParseDay(input[:i], now, loc)
		if err != nil {
			return time.Time{}, err
		}
		day, clock = d, strings.TrimSpace(input[i+1:])
	}
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use 15:04, tomorrow 15:04 or 2006-01-02 15:04)", input)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}
