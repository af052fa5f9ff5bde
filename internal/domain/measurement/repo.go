package measurement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source is the read side consumed by the rule engine. Results are ordered
// by recorded_at ascending.
type Source interface {
	FindMeasurements(ctx context.Context, patientID uuid.UUID, metric Metric, start, end time.Time) ([]*Measurement, error)
}

type Repository interface {
	Source
	Create(ctx context.Context, m *Measurement) error
}
