package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rpm/internal/domain/measurement"
)

type seriesKey struct {
	metric measurement.Metric
	days   int
}

// seriesCache memoises measurement reads within one patient pass, so rules
// sharing a metric and window hit the store once. Not safe for concurrent
// use.
type seriesCache struct {
	source    measurement.Source
	patientID uuid.UUID
	end       time.Time
	entries   map[seriesKey][]*measurement.Measurement
}

func newSeriesCache(source measurement.Source, patientID uuid.UUID, end time.Time) *seriesCache {
	return &seriesCache{
		source:    source,
		patientID: patientID,
		end:       end,
		entries:   make(map[seriesKey][]*measurement.Measurement),
	}
}

func (c *seriesCache) get(ctx context.Context, metric measurement.Metric, windowDays int) ([]*measurement.Measurement, error) {
	key := seriesKey{metric: metric, days: windowDays}
	if s, ok := c.entries[key]; ok {
		return s, nil
	}
	start := c.end.Add(-time.Duration(windowDays) * 24 * time.Hour)
	s, err := c.source.FindMeasurements(ctx, c.patientID, metric, start, c.end)
	if err != nil {
		return nil, err
	}
	c.entries[key] = s
	return s, nil
}
