package util

import (
	"strconv"
	"time"
)

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata on the host; EST without DST is close enough for a TTL hint.
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// ParseTime accepts RFC3339 (with or without fractional seconds) and unix
// seconds. Results are in UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// IsUSMarketOpen reports whether t falls in NYSE regular hours,
// Monday to Friday 09:30-16:00 New York time. Holidays are not considered.
func IsUSMarketOpen(t time.Time) bool {
	ny := t.In(newYork)
	switch ny.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := ny.Hour()*60 + ny.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
