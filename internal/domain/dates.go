package domain

import (
	"strings"
	"time"
)

// DateLayout is the canonical date format used in CSV output, cache keys and
// feed URLs.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange returns every calendar date in [from, to], inclusive.
func DateRange(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// dayFirstLayouts covers the renderings of the feed's dateRep column seen in
// practice. Ambiguous dates resolve day-first.
var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	DateLayout,
	"02-01-2006",
	"02/01/06",
	"2006-01-02T15:04:05Z",
}

// ParseDayFirst parses a date string, trying day-first layouts.
func ParseDayFirst(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}
