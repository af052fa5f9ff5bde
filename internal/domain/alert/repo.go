package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink is the alert store as seen by the rule engine.
type Sink interface {
	CreateAlert(ctx context.Context, patientID uuid.UUID, d Draft) (*Alert, error)
	// FindActiveAlert returns the newest active alert for the patient with the
	// given dedup key created at or after since, or nil when there is none.
	FindActiveAlert(ctx context.Context, patientID uuid.UUID, dedupKey string, since time.Time) (*Alert, error)
}

type Repository interface {
	Sink
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}
