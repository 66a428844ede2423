package schedule

import "fmt"

// ValidateEvents checks a submitted event list and returns a
// *ValidationError enumerating every problem, or nil when the list is
// acceptable.
func ValidateEvents(events []Event) error {
	var msgs []string
	seen := make(map[int]bool, len(events))
	activeCount := 0

	for i := range events {
		ev := &events[i]
		label := fmt.Sprintf("event %d", ev.ID)
		if ev.ID <= 0 {
			label = fmt.Sprintf("event at index %d", i)
			msgs = append(msgs, label+": id must be greater than zero")
		} else if seen[ev.ID] {
			msgs = append(msgs, label+": duplicate id")
		}
		seen[ev.ID] = true

		if ev.Name == "" {
			msgs = append(msgs, label+": name is required")
		}
		if ev.StartTime.IsZero() {
			msgs = append(msgs, label+": startTime is required")
		}
		if ev.IsActive {
			activeCount++
		}
		for j, tr := range ev.Tracks {
			if tr.Track == "" {
				msgs = append(msgs, fmt.Sprintf("%s: track %d has an empty track path", label, j))
			}
		}
		if p := ev.RecurringPattern; p != nil {
			switch p.Type {
			case PatternDaily:
				// Days are ignored for daily patterns.
			case PatternWeekly:
				if len(p.Days) == 0 {
					msgs = append(msgs, label+": weekly pattern needs at least one day")
				}
				for _, d := range p.Days {
					if d < 0 || d > 6 {
						msgs = append(msgs, fmt.Sprintf("%s: weekday %d out of range 0-6", label, d))
					}
				}
			default:
				msgs = append(msgs, fmt.Sprintf("%s: unknown pattern type %q", label, p.Type))
			}
			if _, _, err := parseTimeOfDay(p.Time); err != nil {
				msgs = append(msgs, fmt.Sprintf("%s: pattern time %q is not HH:MM", label, p.Time))
			}
			if p.Occurrences != nil && *p.Occurrences < 0 {
				msgs = append(msgs, label+": occurrences must not be negative")
			}
		}
	}

	if activeCount > 1 {
		msgs = append(msgs, "at most one event may be active")
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}
