package utils

type Metric struct {
	DatabaseRead    chan float64
	DatabaseWrite   chan float64
	ExpandLatency   chan float64
	OccurrenceCount chan float64
}

func NewMetric() *Metric {
	return &Metric{
		DatabaseRead:    make(chan float64),
		DatabaseWrite:   make(chan float64),
		ExpandLatency:   make(chan float64),
		OccurrenceCount: make(chan float64),
	}
}
