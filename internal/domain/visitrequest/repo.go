package visitrequest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink is the visit-request store as seen by the rule engine.
type Sink interface {
	CreateVisitRequest(ctx context.Context, patientID uuid.UUID, d Draft) (*VisitRequest, error)
	// FindPendingRequest returns any pending request for the patient created
	// at or after since, regardless of which rule produced it, or nil.
	FindPendingRequest(ctx context.Context, patientID uuid.UUID, since time.Time) (*VisitRequest, error)
}
