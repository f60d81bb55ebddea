package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormatClock renders a timestamp as "3:04 PM" in loc.
func FormatClock(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("3:04 PM")
}

// FormatDuration renders minutes as "1h 30m", "2h" or "45m". Zero renders empty.
func FormatDuration(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	hours := minutes / 60
	mins := minutes % 60
	switch {
	case hours > 0 && mins > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// Describe renders a one-line caregiver-facing summary of a parsed activity.
func Describe(a ParsedActivity, loc *time.Location) string {
	return MatchActivity(a,
		func(f Feed) string {
			parts := []string{"Feed at " + FormatClock(f.StartTime, loc)}
			if f.EndTime != nil {
				parts[0] += " - " + FormatClock(*f.EndTime, loc)
			}
			if f.AmountMl != nil {
				parts = append(parts, fmt.Sprintf("%dml", *f.AmountMl))
			}
			if f.FeedType != nil {
				parts = append(parts, strings.ToLower(strings.ReplaceAll(string(*f.FeedType), "_", " ")))
			}
			if f.DurationMinutes != nil {
				if d := FormatDuration(*f.DurationMinutes); d != "" {
					parts = append(parts, d)
				}
			}
			return strings.Join(parts, ", ")
		},
		func(d Diaper) string {
			line := "Diaper change at " + FormatClock(d.ChangedAt, loc)
			var kinds []string
			if d.HadPee {
				kinds = append(kinds, "pee")
			}
			if d.HadPoop {
				kinds = append(kinds, "poop")
			}
			if len(kinds) > 0 {
				line += ", " + strings.Join(kinds, " + ")
			}
			return line
		},
		func(s Sleep) string {
			line := "Sleep from " + FormatClock(s.StartTime, loc)
			if s.EndTime != nil {
				line += " to " + FormatClock(*s.EndTime, loc)
			}
			if s.DurationMinutes != nil {
				if d := FormatDuration(*s.DurationMinutes); d != "" {
					line += ", " + d
				}
			}
			if s.IsActive != nil && *s.IsActive {
				line += " (still asleep)"
			}
			return line
		},
	)
}
