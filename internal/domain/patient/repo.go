package patient

import (
	"context"

	"github.com/google/uuid"
)

// Directory enumerates the monitored population for a scheduler pass.
type Directory interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}
