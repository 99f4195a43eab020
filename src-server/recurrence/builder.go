package recurrence

import (
	"fmt"
	"strings"
	"time"
)

type SelectionFrequency string

const (
	SelectionNone     SelectionFrequency = "NONE"
	SelectionDaily    SelectionFrequency = "DAILY"
	SelectionWeekly   SelectionFrequency = "WEEKLY"
	SelectionBiweekly SelectionFrequency = "BIWEEKLY"
	SelectionMonthly  SelectionFrequency = "MONTHLY"
	SelectionYearly   SelectionFrequency = "YEARLY"
)

type MonthlyMode string

const (
	MonthlyModeDate       MonthlyMode = "DATE"
	MonthlyModeWeekdayPos MonthlyMode = "WEEKDAY_POS"
)

// Selection is the recurrence choice the way the portal UI shapes it.
type Selection struct {
	Frequency SelectionFrequency
	// Weekdays applies to weekly/biweekly selections; for monthly
	// WEEKDAY_POS selections only the first entry is used.
	Weekdays    []time.Weekday
	MonthlyMode MonthlyMode
	ByMonthDay  int
	BySetPos    int
	// Until ends the series through the end of that day. Zero means no end.
	Until time.Time
}

var weekdayToCode = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// BuildRule renders a Selection into the rule-string form ParseRule accepts.
// SelectionNone renders to "" (not recurring). The key order is fixed since
// the output is persisted and compared byte-for-byte by callers.
func BuildRule(selection Selection) (string, error) {
	parts := make([]string, 0, 4)

	switch selection.Frequency {
	case SelectionNone:
		return "", nil
	case SelectionDaily:
		parts = append(parts, "FREQ=DAILY")
	case SelectionWeekly, SelectionBiweekly:
		parts = append(parts, "FREQ=WEEKLY")
		if selection.Frequency == SelectionBiweekly {
			parts = append(parts, "INTERVAL=2")
		} else {
			parts = append(parts, "INTERVAL=1")
		}
		if len(selection.Weekdays) > 0 {
			codes := make([]string, 0, len(selection.Weekdays))
			for _, weekday := range selection.Weekdays {
				code, ok := weekdayToCode[weekday]
				if !ok {
					return "", fmt.Errorf("BuildRule: weekday out of range: %d", weekday)
				}
				codes = append(codes, code)
			}
			parts = append(parts, "BYDAY="+strings.Join(codes, ","))
		}
	case SelectionMonthly:
		parts = append(parts, "FREQ=MONTHLY")
		switch {
		case selection.MonthlyMode == MonthlyModeDate && selection.ByMonthDay > 0:
			parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", selection.ByMonthDay))
		case selection.MonthlyMode == MonthlyModeWeekdayPos && selection.BySetPos > 0:
			if len(selection.Weekdays) == 0 {
				return "", fmt.Errorf("BuildRule: WEEKDAY_POS needs a weekday")
			}
			code, ok := weekdayToCode[selection.Weekdays[0]]
			if !ok {
				return "", fmt.Errorf("BuildRule: weekday out of range: %d", selection.Weekdays[0])
			}
			parts = append(parts, "BYDAY="+code)
			parts = append(parts, fmt.Sprintf("BYSETPOS=%d", selection.BySetPos))
		}
	case SelectionYearly:
		parts = append(parts, "FREQ=YEARLY")
	default:
		return "", fmt.Errorf("BuildRule: unknown frequency %q", selection.Frequency)
	}

	if !selection.Until.IsZero() {
		parts = append(parts, "UNTIL="+selection.Until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";"), nil
}
