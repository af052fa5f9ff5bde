package rules

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("rule not found")
	ErrInvalid  = errors.New("invalid rule")
	ErrConflict = errors.New("rule name already exists")
)

// Catalog is the read side the engine consumes. ListEnabled orders by
// priority descending, then by name.
type Catalog interface {
	ListEnabled(ctx context.Context) ([]*Rule, error)
}

type Repository interface {
	Catalog
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Rule, int, error)
	// UpsertDefault inserts r unless a rule with the same name exists. It
	// reports whether a row was created.
	UpsertDefault(ctx context.Context, r *Rule) (bool, error)
}
