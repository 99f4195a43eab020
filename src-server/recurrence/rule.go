package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRule reports rule text that is present but not parseable. A blank
// rule is not an error, it just means the event doesn't repeat.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// Rule is the structured form of the rule string persisted on an event row.
// The string form (FREQ=...;INTERVAL=...) is the only representation that
// leaves this package; everything else works on Rule.
type Rule struct {
	Freq      Frequency
	Interval  int
	ByWeekday []time.Weekday
	// BySetPos picks the Nth ByWeekday of the month, e.g. 3 for the third
	// Tuesday. Zero means unset.
	BySetPos int
	// ByMonthDay pins a monthly rule to a fixed day of the month. Zero means
	// unset.
	ByMonthDay int
	// Until is the hard end of the series, inclusive through the end of that
	// day in the event's timezone. Zero means the series has no end.
	Until time.Time
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// ParseRule turns persisted rule text into a Rule. A blank string returns
// (nil, nil): the event is simply not recurring. Malformed text returns an
// error wrapping ErrInvalidRule so callers can tell a broken rule apart from
// an intentionally absent one. Unknown keys are skipped for forward
// compatibility; unknown values are rejected.
func ParseRule(text string) (*Rule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	rule := &Rule{Interval: 1}
	hasFreq := false
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("ParseRule: %q is not KEY=VALUE: %w", part, ErrInvalidRule)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch freq := Frequency(strings.ToUpper(value)); freq {
			case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
				rule.Freq = freq
				hasFreq = true
			default:
				return nil, fmt.Errorf("ParseRule: unknown FREQ %q: %w", value, ErrInvalidRule)
			}
		case "INTERVAL":
			interval, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("ParseRule: INTERVAL %q: %w", value, ErrInvalidRule)
			}
			// interval=0 from old rows means "every period"
			if interval < 1 {
				interval = 1
			}
			rule.Interval = interval
		case "BYDAY":
			for _, code := range strings.Split(value, ",") {
				weekday, ok := weekdayCodes[strings.ToUpper(strings.TrimSpace(code))]
				if !ok {
					return nil, fmt.Errorf("ParseRule: BYDAY code %q: %w", code, ErrInvalidRule)
				}
				rule.ByWeekday = append(rule.ByWeekday, weekday)
			}
		case "BYSETPOS":
			pos, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("ParseRule: BYSETPOS %q: %w", value, ErrInvalidRule)
			}
			rule.BySetPos = pos
		case "BYMONTHDAY":
			day, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("ParseRule: BYMONTHDAY %q: %w", value, ErrInvalidRule)
			}
			rule.ByMonthDay = day
		case "UNTIL":
			until, err := parseUntil(value)
			if err != nil {
				return nil, fmt.Errorf("ParseRule: UNTIL %q: %w", value, ErrInvalidRule)
			}
			rule.Until = until
		default:
			// skip, older/newer writers may know keys we don't
		}
	}

	if !hasFreq {
		return nil, fmt.Errorf("ParseRule: missing FREQ: %w", ErrInvalidRule)
	}
	return rule, nil
}

// parseUntil accepts the compact form the builder writes, plus the bare-date
// and RFC 3339 forms that older rows carry.
func parseUntil(value string) (time.Time, error) {
	for _, layout := range []string{
		"20060102T150405Z",
		"20060102",
		time.RFC3339,
	} {
		if until, err := time.Parse(layout, value); err == nil {
			return until.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
