package recurrence

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.AmericanEnglish)

// Describe renders a rule the way the portals show it, e.g.
// "Every 2 weeks on Tuesday, Thursday until Jun 5, 2026". A nil rule reads
// "Does not repeat".
func Describe(rule *Rule) string {
	if rule == nil {
		return "Does not repeat"
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	var b strings.Builder
	switch rule.Freq {
	case FreqDaily:
		b.WriteString(every(interval, "day"))
	case FreqWeekly:
		b.WriteString(every(interval, "week"))
		if len(rule.ByWeekday) > 0 {
			b.WriteString(" on ")
			b.WriteString(weekdayList(rule.ByWeekday))
		}
	case FreqMonthly:
		b.WriteString(every(interval, "month"))
		switch {
		case rule.ByMonthDay > 0:
			fmt.Fprintf(&b, " on day %d", rule.ByMonthDay)
		case rule.BySetPos > 0 && len(rule.ByWeekday) > 0:
			fmt.Fprintf(&b, " on the %s %s", ordinal(rule.BySetPos), weekdayName(rule.ByWeekday[0]))
		}
	case FreqYearly:
		b.WriteString(every(interval, "year"))
	default:
		return "Repeats"
	}

	if !rule.Until.IsZero() {
		b.WriteString(" until ")
		b.WriteString(rule.Until.UTC().Format("Jan 2, 2006"))
	}
	return b.String()
}

func every(interval int, unit string) string {
	if interval == 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", interval, unit)
}

func weekdayList(weekdays []time.Weekday) string {
	names := make([]string, 0, len(weekdays))
	for _, weekday := range weekdays {
		names = append(names, weekdayName(weekday))
	}
	return strings.Join(names, ", ")
}

func weekdayName(weekday time.Weekday) string {
	return titleCaser.String(strings.ToLower(weekday.String()))
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
