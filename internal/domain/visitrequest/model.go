package visitrequest

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeProviderVisit  Type = "provider_visit"
	TypeAssistantCheck Type = "assistant_check"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusDeclined  Status = "declined"
)

type VisitRequest struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	RuleID    *uuid.UUID `db:"rule_id" json:"rule_id,omitempty"`
	Type      Type       `db:"request_type" json:"type"`
	Notes     string     `db:"notes" json:"notes,omitempty"`
	Status    Status     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

type Draft struct {
	RuleID *uuid.UUID
	Type   Type
	Notes  string
}
