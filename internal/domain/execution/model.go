package execution

import (
	"time"

	"github.com/google/uuid"
)

// Execution is one audit row: a single rule evaluated for a single patient,
// whether or not it triggered.
type Execution struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	RuleID     uuid.UUID              `db:"rule_id" json:"rule_id"`
	RuleName   string                 `db:"rule_name" json:"rule_name"`
	PatientID  uuid.UUID              `db:"patient_id" json:"patient_id"`
	Triggered  bool                   `db:"triggered" json:"triggered"`
	Value      *float64               `db:"value" json:"value,omitempty"`
	TrendSlope *float64               `db:"trend_slope" json:"trend_slope,omitempty"`
	Message    string                 `db:"message" json:"message,omitempty"`
	Metadata   map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	ExecutedAt time.Time              `db:"executed_at" json:"executed_at"`
}
