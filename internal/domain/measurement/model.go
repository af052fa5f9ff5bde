package measurement

import (
	"time"

	"github.com/google/uuid"
)

// Metric identifies the kind of vital a measurement (or rule) refers to.
type Metric string

const (
	MetricBloodPressure Metric = "blood_pressure"
	MetricGlucose       Metric = "glucose"
	MetricWeight        Metric = "weight"
	MetricSleep         Metric = "sleep"
	MetricHRV           Metric = "hrv"
	MetricA1C           Metric = "a1c"
)

var validMetrics = map[Metric]bool{
	MetricBloodPressure: true,
	MetricGlucose:       true,
	MetricWeight:        true,
	MetricSleep:         true,
	MetricHRV:           true,
	MetricA1C:           true,
}

// Valid reports whether m belongs to the closed set of supported metrics.
func (m Metric) Valid() bool {
	return validMetrics[m]
}

// Measurement maps to the measurement table. Rows are written by the
// ingestion side and are read-only to the rule engine.
type Measurement struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Metric     Metric    `db:"metric_type" json:"metric_type"`
	Value      Value     `db:"value" json:"value"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	Source     string    `db:"source" json:"source,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Number returns the usable numeric reading for this measurement.
func (m *Measurement) Number() (float64, bool) {
	return m.Value.Number(m.Metric)
}
