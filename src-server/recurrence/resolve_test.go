package recurrence_test

import (
	"testing"
	"time"

	"coachcal/src-server/recurrence"
)

func weeklyMaster(t *testing.T) recurrence.Event {
	t.Helper()
	start := time.Date(2024, 1, 9, 18, 0, 0, 0, time.UTC) // Tuesday
	return recurrence.Event{
		ID:       "master-1",
		SeriesID: "series-1",
		Title:    "Weekly coaching",
		StartAt:  start,
		EndAt:    start.Add(time.Hour),
		Timezone: "UTC",
		Rule:     mustRule(t, "FREQ=WEEKLY;INTERVAL=1"),
	}
}

func TestResolveSynthesized(t *testing.T) {
	master := weeklyMaster(t)
	result := recurrence.Resolve([]recurrence.Event{master},
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)

	if len(result.Occurrences) != 4 {
		t.Fatal("wrong occurrence count", result.Occurrences)
	}
	if len(result.Orphaned) != 0 {
		t.Error("no overrides, nothing should be orphaned", result.Orphaned)
	}
	for i, occurrence := range result.Occurrences {
		// case: synthesized occurrences inherit the master's fields with a
		// derived id
		wantID := recurrence.OccurrenceID(master.ID, occurrence.StartAt)
		if occurrence.ID != wantID {
			t.Errorf("occurrence %d: want id %q, got %q", i, wantID, occurrence.ID)
		}
		if occurrence.Title != master.Title || occurrence.SeriesID != master.SeriesID {
			t.Errorf("occurrence %d: master fields not inherited: %+v", i, occurrence)
		}
	}
	if got := result.Occurrences[1].ID; got != "master-1:2024-01-16T18:00:00Z" {
		t.Error("derived id format changed", got)
	}
}

func TestResolveOverridePrecedence(t *testing.T) {
	master := weeklyMaster(t)
	override := recurrence.Event{
		ID:            "override-1",
		SeriesID:      master.SeriesID,
		ParentEventID: master.ID,
		Title:         "Rescheduled session",
		// same start as the Jan 16 occurrence, longer duration
		StartAt:  time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2024, 1, 16, 19, 30, 0, 0, time.UTC),
		Timezone: "UTC",
	}

	result := recurrence.Resolve([]recurrence.Event{master, override},
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)

	if len(result.Occurrences) != 4 {
		t.Fatal("wrong occurrence count", result.Occurrences)
	}
	if len(result.Orphaned) != 0 {
		t.Error("matched override should not be orphaned", result.Orphaned)
	}
	var found bool
	for _, occurrence := range result.Occurrences {
		if occurrence.ID == "override-1" {
			found = true
			// case: the override row is emitted verbatim, not merged
			if occurrence.Title != "Rescheduled session" {
				t.Error("override fields should win", occurrence)
			}
			if !occurrence.EndAt.Equal(override.EndAt) {
				t.Error("override end should win", occurrence.EndAt)
			}
		}
		if occurrence.StartAt.Day() == 16 && occurrence.ID != "override-1" {
			t.Error("synthesized occurrence should be replaced by the override", occurrence)
		}
	}
	if !found {
		t.Error("override not emitted", result.Occurrences)
	}
}

func TestResolveOverrideTolerance(t *testing.T) {
	master := weeklyMaster(t)
	occurrenceStart := time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC)

	// case: 59s from the original start still matches
	near := recurrence.Event{
		ID:            "override-near",
		SeriesID:      master.SeriesID,
		ParentEventID: master.ID,
		StartAt:       occurrenceStart.Add(59 * time.Second),
		EndAt:         occurrenceStart.Add(59*time.Second + time.Hour),
		Timezone:      "UTC",
	}
	result := recurrence.Resolve([]recurrence.Event{master, near},
		time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	)
	if len(result.Occurrences) != 1 || result.Occurrences[0].ID != "override-near" {
		t.Error("59s delta should match", result.Occurrences)
	}
	if len(result.Orphaned) != 0 {
		t.Error("matched override should not be orphaned", result.Orphaned)
	}

	// case: 61s away does not match; the synthesized occurrence is emitted
	// and the override reported orphaned
	far := near
	far.ID = "override-far"
	far.StartAt = occurrenceStart.Add(61 * time.Second)
	far.EndAt = far.StartAt.Add(time.Hour)
	result = recurrence.Resolve([]recurrence.Event{master, far},
		time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	)
	if len(result.Occurrences) != 1 {
		t.Fatal("wrong occurrence count", result.Occurrences)
	}
	if result.Occurrences[0].ID != recurrence.OccurrenceID(master.ID, occurrenceStart) {
		t.Error("61s delta should synthesize", result.Occurrences[0])
	}
	if len(result.Orphaned) != 1 || result.Orphaned[0].ID != "override-far" {
		t.Error("unmatched in-window override should be orphaned", result.Orphaned)
	}
}

func TestResolveOrphanOutsideWindow(t *testing.T) {
	master := weeklyMaster(t)
	// an override for the Feb 6 occurrence, queried with a January window
	override := recurrence.Event{
		ID:            "override-feb",
		SeriesID:      master.SeriesID,
		ParentEventID: master.ID,
		StartAt:       time.Date(2024, 2, 6, 18, 0, 0, 0, time.UTC),
		EndAt:         time.Date(2024, 2, 6, 19, 0, 0, 0, time.UTC),
		Timezone:      "UTC",
	}

	result := recurrence.Resolve([]recurrence.Event{master, override},
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	// case: an override outside the window wasn't considered, so it's not
	// orphaned either
	if len(result.Orphaned) != 0 {
		t.Error("out-of-window override should not be flagged", result.Orphaned)
	}
}

func TestResolveDeletedRows(t *testing.T) {
	master := weeklyMaster(t)
	deleted := recurrence.Event{
		ID:            "override-deleted",
		SeriesID:      master.SeriesID,
		ParentEventID: master.ID,
		StartAt:       time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC),
		EndAt:         time.Date(2024, 1, 16, 19, 0, 0, 0, time.UTC),
		Timezone:      "UTC",
		IsDeleted:     true,
	}

	result := recurrence.Resolve([]recurrence.Event{master, deleted},
		time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	)
	// case: soft-deleted override is invisible; the synthesized occurrence
	// comes back
	if len(result.Occurrences) != 1 {
		t.Fatal("wrong occurrence count", result.Occurrences)
	}
	if result.Occurrences[0].ID == "override-deleted" {
		t.Error("deleted override should not be emitted")
	}
	if len(result.Orphaned) != 0 {
		t.Error("deleted override should not be orphaned", result.Orphaned)
	}

	// case: soft-deleted master contributes nothing
	master.IsDeleted = true
	result = recurrence.Resolve([]recurrence.Event{master},
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	if len(result.Occurrences) != 0 {
		t.Error("deleted master should contribute nothing", result.Occurrences)
	}
}

func TestResolveStandaloneAndMultipleSeries(t *testing.T) {
	master := weeklyMaster(t)
	standalone := recurrence.Event{
		ID:       "solo-1",
		SeriesID: "solo-1",
		Title:    "One-off consult",
		StartAt:  time.Date(2024, 1, 11, 10, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2024, 1, 11, 11, 0, 0, 0, time.UTC),
		Timezone: "UTC",
	}

	result := recurrence.Resolve([]recurrence.Event{master, standalone},
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	)
	// the Jan 9 weekly occurrence plus the one-off
	if len(result.Occurrences) != 2 {
		t.Fatal("wrong occurrence count", result.Occurrences)
	}
	var sawSolo bool
	for _, occurrence := range result.Occurrences {
		if occurrence.SeriesID == "solo-1" {
			sawSolo = true
			if occurrence.ID != recurrence.OccurrenceID("solo-1", standalone.StartAt) {
				t.Error("standalone occurrence id", occurrence.ID)
			}
		}
	}
	if !sawSolo {
		t.Error("standalone event missing", result.Occurrences)
	}
}
