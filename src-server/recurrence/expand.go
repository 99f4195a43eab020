package recurrence

import (
	"log/slog"
	"time"
)

// Master bundles the fields of a series master (or standalone event) that
// expansion needs. StartAt/EndAt are absolute UTC instants; Timezone names
// the IANA zone the series' wall-clock arithmetic happens in.
type Master struct {
	Timezone string
	StartAt  time.Time
	EndAt    time.Time
	// Rule is nil for a standalone event, which expands to exactly itself.
	Rule *Rule
	// RecurrenceEndAt bounds the series through the end of that local day.
	// Zero means unbounded.
	RecurrenceEndAt time.Time
	// Exceptions are the original UTC start instants of suppressed
	// occurrences.
	Exceptions []time.Time
}

// Occurrence is one synthesized instance of a series. Never persisted.
type Occurrence struct {
	StartAt time.Time
	EndAt   time.Time
}

// maxExpandSteps bounds cursor advances per series so a pathological row can
// never spin a request. A weekly series queried fifty years out stays well
// under it.
const maxExpandSteps = 10000

// Expand produces every occurrence of master whose interval overlaps
// [rangeStart, rangeEnd).
//
// All stepping happens in wall-clock time in master's zone and only the
// results are converted back to UTC. Stepping UTC instants directly would
// shift a 18:00 lesson to 17:00 or 19:00 across a DST transition; stepping
// the local calendar keeps the wall-clock time fixed and lets the UTC offset
// absorb the shift.
func Expand(master Master, rangeStart, rangeEnd time.Time) []Occurrence {
	location, err := time.LoadLocation(master.Timezone)
	if err != nil {
		slog.Warn("Expand: unknown timezone, falling back to UTC", "timezone", master.Timezone, "error", err)
		location = time.UTC
	}

	duration := master.EndAt.Sub(master.StartAt)
	exceptions := make(map[int64]struct{}, len(master.Exceptions))
	for _, exception := range master.Exceptions {
		exceptions[exception.Unix()] = struct{}{}
	}

	occurrences := make([]Occurrence, 0)
	push := func(candidate time.Time) {
		start := candidate.UTC()
		end := start.Add(duration)
		if !start.Before(rangeEnd) || !end.After(rangeStart) {
			return
		}
		if _, excluded := exceptions[start.Unix()]; excluded {
			return
		}
		occurrences = append(occurrences, Occurrence{StartAt: start, EndAt: end})
	}

	localStart := master.StartAt.In(location)
	if master.Rule == nil {
		push(localStart)
		return occurrences
	}

	interval := master.Rule.Interval
	if interval < 1 {
		interval = 1
	}
	localRangeEnd := rangeEnd.In(location)
	until := effectiveUntil(master.Rule.Until, master.RecurrenceEndAt, location)
	withinUntil := func(t time.Time) bool {
		return until.IsZero() || !t.After(until)
	}

	weekdays := master.Rule.ByWeekday
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{localStart.Weekday()}
	}

	steps := 0
	capped := func() bool {
		if steps++; steps > maxExpandSteps {
			slog.Warn("Expand: step cap hit, series truncated", "timezone", master.Timezone, "startAt", master.StartAt)
			return true
		}
		return false
	}

	switch master.Rule.Freq {
	case FreqDaily:
		for cursor := localStart; !cursor.After(localRangeEnd) && withinUntil(cursor); cursor = cursor.AddDate(0, 0, interval) {
			if capped() {
				break
			}
			push(cursor)
		}

	case FreqWeekly:
		// Anchor on the Sunday starting the week of the first occurrence,
		// then lay each selected weekday onto every interval-th week at the
		// master's local time of day. Candidates landing before the master's
		// own first start (weekdays earlier in the anchor week) are dropped.
		weekAnchor := startOfDay(localStart).AddDate(0, 0, -int(localStart.Weekday()))
		for ; !weekAnchor.After(localRangeEnd); weekAnchor = weekAnchor.AddDate(0, 0, 7*interval) {
			if capped() {
				break
			}
			for _, weekday := range weekdays {
				candidate := withClock(weekAnchor.AddDate(0, 0, int(weekday)), localStart)
				if candidate.Before(localStart) || !withinUntil(candidate) {
					continue
				}
				push(candidate)
			}
		}

	case FreqMonthly:
		position := master.Rule.BySetPos
		if master.Rule.BySetPos != 0 && position < 1 {
			position = 1
		}
		for cursor := firstOfMonth(localStart); !cursor.After(localRangeEnd); cursor = cursor.AddDate(0, interval, 0) {
			if capped() {
				break
			}
			var candidate time.Time
			switch {
			case master.Rule.ByMonthDay > 0:
				// Fixed day of month, clamped into short months: day 31
				// lands on Feb 28/29 instead of skipping February.
				day := min(daysInMonth(cursor), master.Rule.ByMonthDay)
				candidate = withClock(cursor.AddDate(0, 0, day-1), localStart)
			case position > 0:
				// Nth weekday of the month, e.g. the third Tuesday.
				day := cursor
				for day.Weekday() != weekdays[0] {
					day = day.AddDate(0, 0, 1)
				}
				day = day.AddDate(0, 0, 7*(position-1))
				if day.Month() != cursor.Month() {
					// no 5th such weekday this month
					continue
				}
				candidate = withClock(day, localStart)
			default:
				day := min(daysInMonth(cursor), localStart.Day())
				candidate = withClock(cursor.AddDate(0, 0, day-1), localStart)
			}
			if candidate.Before(localStart) || !withinUntil(candidate) {
				continue
			}
			push(candidate)
		}

	case FreqYearly:
		for cursor := localStart; !cursor.After(localRangeEnd); cursor = addYears(cursor, localStart, interval) {
			if capped() {
				break
			}
			if !withinUntil(cursor) {
				continue
			}
			push(cursor)
		}

	default:
		// Rule came from somewhere other than ParseRule; don't guess.
		slog.Warn("Expand: unrecognized frequency, series not expanded", "freq", master.Rule.Freq)
	}

	return occurrences
}

// effectiveUntil resolves the series end bound: the rule's UNTIL and the
// row's recurrenceEndAt are each inclusive through the end of their local
// day, and when both are present the earlier one wins.
func effectiveUntil(ruleUntil, recurrenceEndAt time.Time, location *time.Location) time.Time {
	var until time.Time
	if !ruleUntil.IsZero() {
		until = endOfDay(ruleUntil.In(location))
	}
	if !recurrenceEndAt.IsZero() {
		rowUntil := endOfDay(recurrenceEndAt.In(location))
		if until.IsZero() || rowUntil.Before(until) {
			until = rowUntil
		}
	}
	return until
}

// addYears steps a yearly cursor, re-clamping the day against the original
// start so a Feb 29 series lands on Feb 28 in common years rather than
// drifting to Mar 1.
func addYears(cursor, localStart time.Time, interval int) time.Time {
	year := cursor.Year() + interval
	firstOfTargetMonth := time.Date(year, localStart.Month(), 1, 0, 0, 0, 0, cursor.Location())
	day := min(daysInMonth(firstOfTargetMonth), localStart.Day())
	return withClock(firstOfTargetMonth.AddDate(0, 0, day-1), localStart)
}

// withClock puts the master's local time of day onto the given calendar day.
// Built through time.Date so a nonexistent local time (inside a spring-
// forward gap) normalizes instead of producing a bogus offset.
func withClock(day, clock time.Time) time.Time {
	return time.Date(
		day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(),
		day.Location(),
	)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func daysInMonth(t time.Time) int {
	// day zero of the next month is the last day of this one
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
