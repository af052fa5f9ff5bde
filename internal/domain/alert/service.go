package alert

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListPatientAlerts(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ResolveAlert closes an active alert. A resolved alert no longer
// suppresses new alerts with the same dedup key.
func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	return s.repo.Resolve(ctx, id)
}
