package route

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"coachcal/src-server/model"
	"coachcal/src-server/recurrence"
	"coachcal/src-server/utils"

	"github.com/google/uuid"
)

func sendMetric(ch chan float64, value float64) {
	select {
	case ch <- value:
	default:
	}
}

func Calendar(muxer *http.ServeMux, as *utils.AppState) {
	type GetOccurrencesReqBody struct {
		StartDateUnixUTC int64 `json:"startDateUnixUTC"`
		EndDateUnixUTC   int64 `json:"endDateUnixUTC"`
	}

	type OneOccurrenceRespBody struct {
		ID                string `json:"id"`
		SeriesID          string `json:"seriesId"`
		Title             string `json:"title"`
		Description       string `json:"description"`
		Location          string `json:"location"`
		StartDateUnixUTC  int64  `json:"startDateUnixUTC"`
		EndDateUnixUTC    int64  `json:"endDateUnixUTC"`
		Timezone          string `json:"timezone"`
		IsAllDay          bool   `json:"isAllDay"`
		IsOverride        bool   `json:"isOverride"`
		RecurrenceSummary string `json:"recurrenceSummary"`
	}

	type GetOccurrencesRespBody struct {
		Occurrences         []OneOccurrenceRespBody `json:"occurrences"`
		OrphanedOverrideIDs []string                `json:"orphanedOverrideIds,omitempty"`
	}

	// expand every visible series into the concrete occurrences overlapping
	// the requested window
	muxer.HandleFunc("POST /calendar/get-occurrences",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var reqBody GetOccurrencesReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			if reqBody.StartDateUnixUTC == 0 || reqBody.EndDateUnixUTC == 0 {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a start date and end date"))
				return
			}
			rangeStart := time.Unix(reqBody.StartDateUnixUTC, 0).UTC()
			rangeEnd := time.Unix(reqBody.EndDateUnixUTC, 0).UTC()
			if !rangeStart.Before(rangeEnd) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Start date must be before end date"))
				return
			}

			// one snapshot read; masters may start long before the window,
			// so the range filter happens in the expander, not in SQL
			eventModels := make([]model.Event, 0)
			dbReadStart := time.Now()
			if err := as.BunDB.
				NewSelect().
				Model(&eventModels).
				Where("is_deleted = ?", false).
				Scan(r.Context()); err != nil {
				slog.Error("can't get events", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't get events"))
				return
			}
			sendMetric(as.MetricChans.DatabaseRead, float64(time.Since(dbReadStart).Microseconds()))

			expandStart := time.Now()
			result := recurrence.Resolve(model.RecurrenceEvents(eventModels), rangeStart, rangeEnd)
			sendMetric(as.MetricChans.ExpandLatency, float64(time.Since(expandStart).Microseconds()))
			sendMetric(as.MetricChans.OccurrenceCount, float64(len(result.Occurrences)))

			respBody := GetOccurrencesRespBody{
				Occurrences: make([]OneOccurrenceRespBody, 0, len(result.Occurrences)),
			}
			for _, occurrence := range result.Occurrences {
				respBody.Occurrences = append(respBody.Occurrences, OneOccurrenceRespBody{
					ID:                occurrence.ID,
					SeriesID:          occurrence.SeriesID,
					Title:             occurrence.Title,
					Description:       occurrence.Description,
					Location:          occurrence.Location,
					StartDateUnixUTC:  occurrence.StartAt.Unix(),
					EndDateUnixUTC:    occurrence.EndAt.Unix(),
					Timezone:          occurrence.Timezone,
					IsAllDay:          occurrence.IsAllDay,
					IsOverride:        occurrence.ParentEventID != "",
					RecurrenceSummary: recurrence.Describe(occurrence.Rule),
				})
			}
			for _, orphaned := range result.Orphaned {
				respBody.OrphanedOverrideIDs = append(respBody.OrphanedOverrideIDs, orphaned.ID)
			}
			if len(result.Orphaned) > 0 {
				slog.Warn("overrides no longer match any occurrence of their series", "count", len(result.Orphaned))
			}

			respBodyJson, err := json.Marshal(respBody)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't marshal response body"))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write(respBodyJson)
		})

	type RecurrenceReqBody struct {
		Frequency      string `json:"frequency"`
		Weekdays       []int  `json:"weekdays"`
		MonthlyMode    string `json:"monthlyMode"`
		ByMonthDay     int    `json:"byMonthDay"`
		BySetPos       int    `json:"bySetPos"`
		UntilUnixUTC   int64  `json:"untilUnixUTC"`
	}

	type CreateEventReqBody struct {
		Title            string             `json:"title"`
		Description      string             `json:"description"`
		Location         string             `json:"location"`
		Timezone         string             `json:"timezone"`
		StartDateUnixUTC int64              `json:"startDateUnixUTC"`
		EndDateUnixUTC   int64              `json:"endDateUnixUTC"`
		// alternative to the unix pair: "next tuesday 6pm" etc
		StartsAtText     string             `json:"startsAtText"`
		DurationMinutes  int                `json:"durationMinutes"`
		IsAllDay        bool               `json:"isAllDay"`
		Recurrence      *RecurrenceReqBody `json:"recurrence"`
	}

	// create a standalone event or a series master; the success response is
	// the event ID
	muxer.HandleFunc("POST /calendar/create-event",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var reqBody CreateEventReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}

			startDate := reqBody.StartDateUnixUTC
			endDate := reqBody.EndDateUnixUTC
			if reqBody.StartsAtText != "" {
				parsed, err := as.When.Parse(reqBody.StartsAtText, time.Now().In(as.Config.GetLocation()))
				if err != nil || parsed == nil {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte("Can't understand the start date"))
					return
				}
				durationMinutes := reqBody.DurationMinutes
				if durationMinutes <= 0 {
					durationMinutes = 60
				}
				startDate = parsed.Time.UTC().Unix()
				endDate = parsed.Time.UTC().Add(time.Duration(durationMinutes) * time.Minute).Unix()
			}

			timezone := reqBody.Timezone
			if timezone == "" {
				timezone = as.Config.GetLocation().String()
			}

			rule := ""
			recurrenceEndAt := int64(0)
			if reqBody.Recurrence != nil {
				selection := recurrence.Selection{
					Frequency:   recurrence.SelectionFrequency(reqBody.Recurrence.Frequency),
					MonthlyMode: recurrence.MonthlyMode(reqBody.Recurrence.MonthlyMode),
					ByMonthDay:  reqBody.Recurrence.ByMonthDay,
					BySetPos:    reqBody.Recurrence.BySetPos,
				}
				for _, weekday := range reqBody.Recurrence.Weekdays {
					if weekday < 0 || weekday > 6 {
						w.WriteHeader(http.StatusBadRequest)
						w.Write([]byte("Weekdays must be between 0 (Sunday) and 6 (Saturday)"))
						return
					}
					selection.Weekdays = append(selection.Weekdays, time.Weekday(weekday))
				}
				if reqBody.Recurrence.UntilUnixUTC != 0 {
					selection.Until = time.Unix(reqBody.Recurrence.UntilUnixUTC, 0).UTC()
					recurrenceEndAt = reqBody.Recurrence.UntilUnixUTC
				}
				var err error
				rule, err = recurrence.BuildRule(selection)
				if err != nil {
					slog.Debug("can't build recurrence rule", "error", err)
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte("Invalid recurrence selection"))
					return
				}
			}

			eventModel := model.Event{
				ID:                     uuid.NewString(),
				Title:                  reqBody.Title,
				Description:            reqBody.Description,
				Location:               reqBody.Location,
				StartAtUnixUTC:         startDate,
				EndAtUnixUTC:           endDate,
				Timezone:               timezone,
				IsAllDay:               reqBody.IsAllDay,
				RecurrenceRule:         rule,
				RecurrenceEndAtUnixUTC: recurrenceEndAt,
			}
			eventModel.SeriesID = eventModel.ID

			dbWriteStart := time.Now()
			if err := eventModel.Upsert(r.Context(), as.BunDB); err != nil {
				slog.Debug("can't create event", "error", err)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Can't create event: " + err.Error()))
				return
			}
			sendMetric(as.MetricChans.DatabaseWrite, float64(time.Since(dbWriteStart).Microseconds()))

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"` + eventModel.ID + `"}`))
		})

	type OverrideOccurrenceReqBody struct {
		SeriesID              string `json:"seriesId"`
		OriginalStartUnixUTC  int64  `json:"originalStartUnixUTC"`
		Title                 string `json:"title"`
		Description           string `json:"description"`
		Location              string `json:"location"`
		StartDateUnixUTC      int64  `json:"startDateUnixUTC"`
		EndDateUnixUTC        int64  `json:"endDateUnixUTC"`
	}

	// edit one occurrence of a series without touching the rest of it
	muxer.HandleFunc("POST /calendar/override-occurrence",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var reqBody OverrideOccurrenceReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			if reqBody.SeriesID == "" || reqBody.OriginalStartUnixUTC == 0 {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a series id and the occurrence's original start"))
				return
			}

			masterModel, originalStart, ok := findOccurrence(w, r, as, reqBody.SeriesID, reqBody.OriginalStartUnixUTC)
			if !ok {
				return
			}

			startDate := reqBody.StartDateUnixUTC
			if startDate == 0 {
				startDate = originalStart.Unix()
			}
			// the override is joined back to its occurrence by start-time
			// proximity; a start moved a minute or more would orphan it
			delta := startDate - originalStart.Unix()
			if delta < 0 {
				delta = -delta
			}
			if delta >= 60 {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("An occurrence's start can shift by less than a minute; edit the whole series instead"))
				return
			}
			endDate := reqBody.EndDateUnixUTC
			if endDate == 0 {
				duration := masterModel.EndAtUnixUTC - masterModel.StartAtUnixUTC
				endDate = originalStart.Unix() + duration
			}
			title := reqBody.Title
			if title == "" {
				title = masterModel.Title
			}

			overrideModel := model.Event{
				ID:             uuid.NewString(),
				SeriesID:       masterModel.SeriesID,
				ParentEventID:  masterModel.ID,
				Title:          title,
				Description:    reqBody.Description,
				Location:       reqBody.Location,
				StartAtUnixUTC: startDate,
				EndAtUnixUTC:   endDate,
				Timezone:       masterModel.Timezone,
				IsAllDay:       masterModel.IsAllDay,
			}
			dbWriteStart := time.Now()
			if err := overrideModel.Upsert(r.Context(), as.BunDB); err != nil {
				slog.Debug("can't create override", "error", err)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Can't create override: " + err.Error()))
				return
			}
			sendMetric(as.MetricChans.DatabaseWrite, float64(time.Since(dbWriteStart).Microseconds()))

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"` + overrideModel.ID + `"}`))
		})

	type CancelOccurrenceReqBody struct {
		SeriesID             string `json:"seriesId"`
		OriginalStartUnixUTC int64  `json:"originalStartUnixUTC"`
	}

	// suppress one occurrence of a series
	muxer.HandleFunc("POST /calendar/cancel-occurrence",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var reqBody CancelOccurrenceReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			if reqBody.SeriesID == "" || reqBody.OriginalStartUnixUTC == 0 {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a series id and the occurrence's original start"))
				return
			}

			masterModel, originalStart, ok := findOccurrence(w, r, as, reqBody.SeriesID, reqBody.OriginalStartUnixUTC)
			if !ok {
				return
			}

			masterModel.AddException(originalStart)
			dbWriteStart := time.Now()
			if err := masterModel.Upsert(r.Context(), as.BunDB); err != nil {
				slog.Error("can't save exception", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't cancel occurrence"))
				return
			}
			// an override that stood in for this occurrence goes with it
			if _, err := as.BunDB.NewUpdate().
				Model((*model.Event)(nil)).
				Set("is_deleted = ?", true).
				Where("series_id = ?", masterModel.SeriesID).
				Where("parent_event_id != ?", "").
				Where("start_at > ?", originalStart.Unix()-60).
				Where("start_at < ?", originalStart.Unix()+60).
				Exec(r.Context()); err != nil {
				slog.Error("can't delete overrides of cancelled occurrence", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't cancel occurrence"))
				return
			}
			sendMetric(as.MetricChans.DatabaseWrite, float64(time.Since(dbWriteStart).Microseconds()))

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		})

	type DeleteEventReqBody struct {
		SeriesID string `json:"seriesId"`
	}

	// soft-delete a whole series: the master and every override
	muxer.HandleFunc("POST /calendar/delete-event",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var reqBody DeleteEventReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			if reqBody.SeriesID == "" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a series id"))
				return
			}

			dbWriteStart := time.Now()
			result, err := as.BunDB.NewUpdate().
				Model((*model.Event)(nil)).
				Set("is_deleted = ?", true).
				Where("series_id = ?", reqBody.SeriesID).
				Exec(r.Context())
			if err != nil {
				slog.Error("can't delete series", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't delete event"))
				return
			}
			sendMetric(as.MetricChans.DatabaseWrite, float64(time.Since(dbWriteStart).Microseconds()))
			if affected, err := result.RowsAffected(); err == nil && affected == 0 {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("No such series"))
				return
			}

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		})
}

// findOccurrence loads the series master and checks that the given instant
// really is one of the series' current occurrences, writing the error
// response itself when it isn't. Guards the edit endpoints against creating
// rows that point at nothing.
func findOccurrence(
	w http.ResponseWriter,
	r *http.Request,
	as *utils.AppState,
	seriesID string,
	originalStartUnixUTC int64,
) (*model.Event, time.Time, bool) {
	masterModel := new(model.Event)
	if err := as.BunDB.NewSelect().
		Model(masterModel).
		Where("series_id = ?", seriesID).
		Where("parent_event_id = ?", "").
		Where("is_deleted = ?", false).
		Scan(r.Context()); err != nil {
		slog.Debug("can't get master event", "series", seriesID, "error", err)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("No such series"))
		return nil, time.Time{}, false
	}

	originalStart := time.Unix(originalStartUnixUTC, 0).UTC()
	master := masterModel.RecurrenceEvent()
	occurrences := recurrence.Expand(recurrence.Master{
		Timezone:        master.Timezone,
		StartAt:         master.StartAt,
		EndAt:           master.EndAt,
		Rule:            master.Rule,
		RecurrenceEndAt: master.RecurrenceEndAt,
		Exceptions:      master.Exceptions,
	}, originalStart, originalStart.Add(time.Second))
	for _, occurrence := range occurrences {
		if occurrence.StartAt.Equal(originalStart) {
			return masterModel, originalStart, true
		}
	}

	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte("That instant is not an occurrence of this series"))
	return nil, time.Time{}, false
}
