package schedule

import (
	"fmt"
	"sort"
	"time"
)

// NextInstance computes the next UTC instant strictly after from at which
// the pattern fires. It reports false when the pattern has expired or is
// malformed. The occurrence budget is decremented by the scheduler after a
// successful activation, never here.
func NextInstance(p *RecurringPattern, from time.Time) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	if p.Occurrences != nil && *p.Occurrences <= 0 {
		return time.Time{}, false
	}
	hour, min, err := parseTimeOfDay(p.Time)
	if err != nil {
		return time.Time{}, false
	}
	from = from.UTC()

	switch p.Type {
	case PatternDaily:
		candidate := atTimeOfDay(from, 0, hour, min)
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, true

	case PatternWeekly:
		if len(p.Days) == 0 {
			return time.Time{}, false
		}
		days := append([]int(nil), p.Days...)
		sort.Ints(days)
		wd := int(from.Weekday())

		// First matching day in the current week.
		for _, d := range days {
			if d < wd {
				continue
			}
			candidate := atTimeOfDay(from, d-wd, hour, min)
			if candidate.After(from) {
				return candidate, true
			}
		}
		// Wrap to next week; a single day equal to today whose time has
		// passed lands exactly 7 days out.
		d := days[0]
		offset := (d - wd + 7) % 7
		if offset == 0 {
			offset = 7
		}
		return atTimeOfDay(from, offset, hour, min), true
	}
	return time.Time{}, false
}

// atTimeOfDay returns the given time-of-day on from's date plus dayOffset,
// in UTC.
func atTimeOfDay(from time.Time, dayOffset, hour, min int) time.Time {
	y, m, d := from.Date()
	return time.Date(y, m, d+dayOffset, hour, min, 0, 0, time.UTC)
}

// parseTimeOfDay parses "15:04" into hour and minute.
func parseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
