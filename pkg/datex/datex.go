// Package datex parses and formats the locale-native date and time forms
// used in the worker sheet: dates as "YYYY. M. D" (no zero padding), clock
// times as "HH:MM", and timestamps as "YYYY. M. D HH:MM". All values are
// interpreted in the process-local time zone.
package datex

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDate renders t as "YYYY. M. D".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d. %d. %d", t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses "YYYY. M. D" (a trailing dot is tolerated) into a local
// midnight time.
func ParseDate(s string) (time.Time, error) {
	y, m, d, err := splitDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.Local), nil
}

// FormatTimestamp renders t as "YYYY. M. D HH:MM".
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s %02d:%02d", FormatDate(t), t.Hour(), t.Minute())
}

// ParseTimestamp parses "YYYY. M. D HH:MM" into a local time at minute
// resolution.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("op=datex.ParseTimestamp: %q has no clock part", s)
	}
	y, m, d, err := splitDate(s[:i])
	if err != nil {
		return time.Time{}, err
	}
	hh, mm, err := ParseClock(s[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(y, time.Month(m), d, hh, mm, 0, 0, time.Local), nil
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("op=datex.ParseClock: %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(strings.TrimSpace(hh))
	if err == nil {
		minute, err = strconv.Atoi(strings.TrimSpace(mm))
	}
	if err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("op=datex.ParseClock: %q is not HH:MM", s)
	}
	return hour, minute, nil
}

// At combines the calendar date of day with an "HH:MM" clock string.
func At(day time.Time, clock string) (time.Time, error) {
	hh, mm, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, time.Local), nil
}

// FormatShort renders t as "M/D HH:MM" for result-history lines.
func FormatShort(t time.Time) string {
	return fmt.Sprintf("%d/%d %02d:%02d", int(t.Month()), t.Day(), t.Hour(), t.Minute())
}

func splitDate(s string) (y, m, d int, err error) {
	parts := strings.Split(strings.TrimSuffix(strings.TrimSpace(s), "."), ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("op=datex.splitDate: %q is not YYYY. M. D", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		nums[i], err = strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("op=datex.splitDate: %q is not YYYY. M. D", s)
		}
	}
	y, m, d = nums[0], nums[1], nums[2]
	if y < 1000 || m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, 0, fmt.Errorf("op=datex.splitDate: %q out of range", s)
	}
	return y, m, d, nil
}
