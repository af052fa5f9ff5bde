package alert

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Alert types produced by the rule engine. Metric alerts carry the metric in
// their name; task and content assignments are informational alerts.
const (
	TypeBloodPressure     = "bp_alert"
	TypeGlucose           = "glucose_alert"
	TypeWeight            = "weight_alert"
	TypeSleep             = "sleep_alert"
	TypeHRV               = "hrv_alert"
	TypeA1C               = "a1c_alert"
	TypeTaskAssignment    = "task_assignment"
	TypeContentAssignment = "content_assignment"
)

type Alert struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	PatientID  uuid.UUID              `db:"patient_id" json:"patient_id"`
	RuleID     *uuid.UUID             `db:"rule_id" json:"rule_id,omitempty"`
	Type       string                 `db:"alert_type" json:"type"`
	DedupKey   string                 `db:"dedup_key" json:"dedup_key"`
	Severity   Severity               `db:"severity" json:"severity"`
	Title      string                 `db:"title" json:"title"`
	Body       string                 `db:"body" json:"body,omitempty"`
	Payload    map[string]interface{} `db:"payload" json:"payload,omitempty"`
	Status     Status                 `db:"status" json:"status"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time             `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Draft is what a caller supplies to CreateAlert; the sink assigns identity,
// status and timestamps.
type Draft struct {
	RuleID   *uuid.UUID
	Type     string
	DedupKey string
	Severity Severity
	Title    string
	Body     string
	Payload  map[string]interface{}
}
