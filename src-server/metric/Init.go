package metric

import (
	"log/slog"
	"time"

	"coachcal/src-server/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func databaseEmptyRead(as *utils.AppState, tickerInterval *time.Duration) {
	databaseEmptyRead := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_database_empty_read_microsec",
		Help: "The latency of an empty database read in microseconds",
	})
	good := true
	if err := prometheus.Register(databaseEmptyRead); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register coachcal_database_empty_read_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("coachcal_database_empty_read_microsec metric registered")
		databaseEmptyRead.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		ticker := time.NewTicker(*tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(databaseEmptyRead) {
				case true:
					slog.Debug("coachcal_database_empty_read_microsec metric unregistered")
				case false:
					slog.Warn("coachcal_database_empty_read_microsec metric not registered")
				}
				return
			case <-ticker.C:
				latency, err := database(as)
				if err != nil {
					slog.Error("can't get database latency", "error", err)
					continue
				}
				databaseEmptyRead.Set(float64(latency.Microseconds()))
			}
		}
	}()
}

func expandLatency(as *utils.AppState, clearTickerInterval *time.Duration) {
	expandLatency := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_expand_latency_microsec",
		Help: "The latency of one occurrence expansion over the queried window in microseconds",
	})
	good := true
	if err := prometheus.Register(expandLatency); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register coachcal_expand_latency_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("coachcal_expand_latency_microsec metric registered")
		expandLatency.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(expandLatency) {
				case true:
					slog.Debug("coachcal_expand_latency_microsec metric unregistered")
				case false:
					slog.Warn("coachcal_expand_latency_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.ExpandLatency:
				expandLatency.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				expandLatency.Set(0)
			}
		}
	}()
}

func occurrenceCount(as *utils.AppState, clearTickerInterval *time.Duration) {
	occurrenceCount := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_occurrence_count",
		Help: "The number of occurrences returned by the last calendar query",
	})
	good := true
	if err := prometheus.Register(occurrenceCount); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register coachcal_occurrence_count metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("coachcal_occurrence_count metric registered")
		occurrenceCount.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(occurrenceCount) {
				case true:
					slog.Debug("coachcal_occurrence_count metric unregistered")
				case false:
					slog.Warn("coachcal_occurrence_count metric not registered")
				}
				return
			case count := <-as.MetricChans.OccurrenceCount:
				occurrenceCount.Set(count)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				occurrenceCount.Set(0)
			}
		}
	}()
}

func databaseRead(as *utils.AppState, clearTickerInterval *time.Duration) {
	databaseRead := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_database_read_microsec",
		Help: "The latency of a database read in microseconds",
	})
	good := true
	if err := prometheus.Register(databaseRead); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register coachcal_database_read_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("coachcal_database_read_microsec metric registered")
		databaseRead.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(databaseRead) {
				case true:
					slog.Debug("coachcal_database_read_microsec metric unregistered")
				case false:
					slog.Warn("coachcal_database_read_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.DatabaseRead:
				databaseRead.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				databaseRead.Set(0)
			}
		}
	}()
}

func databaseWrite(as *utils.AppState, clearTickerInterval *time.Duration) {
	databaseWrite := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_database_write_microsec",
		Help: "The latency of a database write in microseconds",
	})
	good := true
	if err := prometheus.Register(databaseWrite); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register coachcal_database_write_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("coachcal_database_write_microsec metric registered")
		databaseWrite.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(databaseWrite) {
				case true:
					slog.Debug("coachcal_database_write_microsec metric unregistered")
				case false:
					slog.Warn("coachcal_database_write_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.DatabaseWrite:
				databaseWrite.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				databaseWrite.Set(0)
			}
		}
	}()
}

func Init(as *utils.AppState) {
	tickerInterval := as.Config.GetMetricCollectionInterval()
	clearTickerInterval := as.Config.GetMetricCollectionInterval() * 2

	databaseEmptyRead(as, &tickerInterval)
	databaseRead(as, &clearTickerInterval)
	databaseWrite(as, &clearTickerInterval)
	expandLatency(as, &clearTickerInterval)
	occurrenceCount(as, &clearTickerInterval)
}
