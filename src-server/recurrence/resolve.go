package recurrence

import (
	"time"
)

// Event is one stored calendar row the way the resolver sees it: a
// standalone event, a series master, or an override of a single occurrence.
// The persistence layer converts its rows into this shape before calling
// Resolve; synthesized occurrences come back in the same shape.
type Event struct {
	ID       string
	SeriesID string
	// ParentEventID is blank on masters and standalone events; non-blank
	// marks an override of one occurrence of the series.
	ParentEventID string

	Title       string
	Description string
	Location    string

	StartAt  time.Time
	EndAt    time.Time
	Timezone string
	IsAllDay bool

	Rule            *Rule
	RecurrenceEndAt time.Time
	Exceptions      []time.Time

	IsDeleted bool
}

// An override stands in for the occurrence whose original start is within
// this window of the override's own start. There is no persisted key from
// override to occurrence, only this proximity join.
const overrideMatchTolerance = 60 * time.Second

// ResolveResult is the flat occurrence list for a query window, plus any
// override rows that no longer match an occurrence of their series (the
// master's rule, end, or exceptions were edited out from under them).
type ResolveResult struct {
	Occurrences []Event
	Orphaned    []Event
}

// Resolve expands every master in events across [rangeStart, rangeEnd) and
// splices in override rows where one stands in for a synthesized occurrence.
// Pure function: it reads the snapshot it was handed and nothing else.
func Resolve(events []Event, rangeStart, rangeEnd time.Time) ResolveResult {
	masters := make([]Event, 0, len(events))
	overridesBySeries := make(map[string][]Event)
	overrideCount := 0
	for _, event := range events {
		if event.IsDeleted {
			continue
		}
		if event.ParentEventID == "" {
			masters = append(masters, event)
			continue
		}
		overridesBySeries[event.SeriesID] = append(overridesBySeries[event.SeriesID], event)
		overrideCount++
	}

	matched := make(map[string]struct{}, overrideCount)
	result := ResolveResult{Occurrences: make([]Event, 0)}

	for _, master := range masters {
		occurrences := Expand(Master{
			Timezone:        master.Timezone,
			StartAt:         master.StartAt,
			EndAt:           master.EndAt,
			Rule:            master.Rule,
			RecurrenceEndAt: master.RecurrenceEndAt,
			Exceptions:      master.Exceptions,
		}, rangeStart, rangeEnd)

		seriesOverrides := overridesBySeries[master.SeriesID]
		for _, occurrence := range occurrences {
			if override, ok := findOverride(seriesOverrides, occurrence.StartAt); ok {
				matched[override.ID] = struct{}{}
				result.Occurrences = append(result.Occurrences, override)
				continue
			}
			synthesized := master
			synthesized.ID = OccurrenceID(master.ID, occurrence.StartAt)
			synthesized.StartAt = occurrence.StartAt
			synthesized.EndAt = occurrence.EndAt
			result.Occurrences = append(result.Occurrences, synthesized)
		}
	}

	// An unmatched override only counts as orphaned when its start falls
	// inside the window (padded by the tolerance); overrides for occurrences
	// outside the window simply weren't considered.
	for _, event := range events {
		if event.IsDeleted || event.ParentEventID == "" {
			continue
		}
		if _, ok := matched[event.ID]; ok {
			continue
		}
		if event.StartAt.Before(rangeStart.Add(-overrideMatchTolerance)) ||
			!event.StartAt.Before(rangeEnd.Add(overrideMatchTolerance)) {
			continue
		}
		result.Orphaned = append(result.Orphaned, event)
	}

	return result
}

// OccurrenceID derives a stable id for a synthesized occurrence from its
// master and the occurrence's original start instant.
func OccurrenceID(masterID string, originalStart time.Time) string {
	return masterID + ":" + originalStart.UTC().Format(time.RFC3339)
}

func findOverride(overrides []Event, originalStart time.Time) (Event, bool) {
	for _, override := range overrides {
		delta := override.StartAt.Sub(originalStart)
		if delta < 0 {
			delta = -delta
		}
		if delta < overrideMatchTolerance {
			return override, true
		}
	}
	return Event{}, false
}
