package execution

import (
	"context"

	"github.com/google/uuid"
)

// Recorder appends audit rows. Implementations must be safe for concurrent
// use.
type Recorder interface {
	Record(ctx context.Context, e *Execution) error
}

type Repository interface {
	Recorder
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Execution, int, error)
}
