package model

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"coachcal/src-server/recurrence"

	"github.com/uptrace/bun"
)

// Event is one row of the events table. A row plays exactly one of three
// roles: a standalone event (no rule, no parent), a series master (rule set,
// no parent), or an override standing in for one edited occurrence of its
// series (parent set).
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID       string `bun:"id,pk,notnull"`           // required
	SeriesID string `bun:"series_id,notnull"`       // required; equals ID for standalone events and masters
	// blank = master or standalone; non-blank = override of that master
	ParentEventID string `bun:"parent_event_id"`

	Title       string `bun:"title,notnull"` // required
	Description string `bun:"description"`
	Location    string `bun:"location"`

	StartAtUnixUTC int64  `bun:"start_at,notnull"` // required
	EndAtUnixUTC   int64  `bun:"end_at,notnull"`   // required
	Timezone       string `bun:"timezone,notnull"` // required, IANA name
	IsAllDay       bool   `bun:"is_all_day"`

	RecurrenceRule         string `bun:"recurrence_rule"`
	RecurrenceEndAtUnixUTC int64  `bun:"recurrence_end_at"`
	// comma-joined unix seconds of suppressed original occurrence starts
	RecurrenceExceptions string `bun:"recurrence_exceptions"`

	IsDeleted bool  `bun:"is_deleted"`
	CreatedAt int64 `bun:"created_at,notnull"`
	UpdatedAt int64 `bun:"updated_at"`
}

// Upsert the event to the database
func (e *Event) Upsert(ctx context.Context, db bun.IDB) error {
	switch {
	case e.ID == "":
		return fmt.Errorf("(*Event).Upsert: event id is blank")
	case e.SeriesID == "":
		return fmt.Errorf("(*Event).Upsert: series id is blank")
	case e.Title == "":
		return fmt.Errorf("(*Event).Upsert: title is blank")
	case e.StartAtUnixUTC == 0:
		return fmt.Errorf("(*Event).Upsert: start date is blank")
	case e.EndAtUnixUTC == 0:
		return fmt.Errorf("(*Event).Upsert: end date is blank")
	case e.StartAtUnixUTC > e.EndAtUnixUTC:
		return fmt.Errorf("(*Event).Upsert: start date must be before end date")
	case e.Timezone == "":
		return fmt.Errorf("(*Event).Upsert: timezone is blank")
	case e.ParentEventID != "" && e.RecurrenceRule != "":
		return fmt.Errorf("(*Event).Upsert: an override can't carry its own recurrence rule")
	}
	if _, err := time.LoadLocation(e.Timezone); err != nil {
		return fmt.Errorf("(*Event).Upsert: timezone is invalid: %w", err)
	}
	// a broken rule must not make it to disk; reads degrade gracefully but
	// writes are strict
	if _, err := recurrence.ParseRule(e.RecurrenceRule); err != nil {
		return fmt.Errorf("(*Event).Upsert: %w", err)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UTC().Unix()
	}

	exists, err := db.NewSelect().
		Model((*Event)(nil)).
		Where("id = ?", e.ID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("(*Event).Upsert: %w", err)
	}

	switch exists {
	case true:
		e.UpdatedAt = time.Now().UTC().Unix()
		if _, err := db.NewUpdate().
			Model(e).
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Event).Upsert: %w", err)
		}
	case false:
		if _, err := db.NewInsert().
			Model(e).
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Event).Upsert: %w", err)
		}
	}

	return nil
}

// ExceptionTimes parses the comma-joined exceptions column. Entries that
// don't parse are skipped with a warning rather than failing the read.
func (e *Event) ExceptionTimes() []time.Time {
	if e.RecurrenceExceptions == "" {
		return nil
	}
	exceptions := make([]time.Time, 0)
	for _, raw := range strings.Split(e.RecurrenceExceptions, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("(*Event).ExceptionTimes: bad exception entry", "event", e.ID, "entry", raw)
			continue
		}
		exceptions = append(exceptions, time.Unix(unix, 0).UTC())
	}
	return exceptions
}

// AddException suppresses the occurrence whose original start is t. Adding
// the same instant twice is a no-op.
func (e *Event) AddException(t time.Time) {
	entry := strconv.FormatInt(t.UTC().Unix(), 10)
	for _, existing := range strings.Split(e.RecurrenceExceptions, ",") {
		if strings.TrimSpace(existing) == entry {
			return
		}
	}
	if e.RecurrenceExceptions == "" {
		e.RecurrenceExceptions = entry
		return
	}
	e.RecurrenceExceptions += "," + entry
}

// RecurrenceEvent converts the row into the expansion engine's view. A rule
// column that no longer parses (edited by hand, written by an old build)
// degrades to "not recurring" with a warning; one broken row must not take
// down a whole calendar fetch.
func (e *Event) RecurrenceEvent() recurrence.Event {
	rule, err := recurrence.ParseRule(e.RecurrenceRule)
	if err != nil {
		slog.Warn("(*Event).RecurrenceEvent: unparseable rule on row, treating as non-recurring",
			"event", e.ID, "rule", e.RecurrenceRule, "error", err)
		rule = nil
	}

	var recurrenceEndAt time.Time
	if e.RecurrenceEndAtUnixUTC != 0 {
		recurrenceEndAt = time.Unix(e.RecurrenceEndAtUnixUTC, 0).UTC()
	}

	return recurrence.Event{
		ID:              e.ID,
		SeriesID:        e.SeriesID,
		ParentEventID:   e.ParentEventID,
		Title:           e.Title,
		Description:     e.Description,
		Location:        e.Location,
		StartAt:         time.Unix(e.StartAtUnixUTC, 0).UTC(),
		EndAt:           time.Unix(e.EndAtUnixUTC, 0).UTC(),
		Timezone:        e.Timezone,
		IsAllDay:        e.IsAllDay,
		Rule:            rule,
		RecurrenceEndAt: recurrenceEndAt,
		Exceptions:      e.ExceptionTimes(),
		IsDeleted:       e.IsDeleted,
	}
}

// RecurrenceEvents converts a snapshot of rows for the resolver.
func RecurrenceEvents(events []Event) []recurrence.Event {
	converted := make([]recurrence.Event, len(events))
	for i, event := range events {
		converted[i] = event.RecurrenceEvent()
	}
	return converted
}
