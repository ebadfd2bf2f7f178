package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/filter"
	"github.com/ehr/records/pkg/pagination"
)

// UniqueField names a patient attribute that must be globally unique.
type UniqueField string

const (
	UniqueIdentifier UniqueField = "identifier"
	UniqueUsername   UniqueField = "username"
	UniqueEmail      UniqueField = "email"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsBy(ctx context.Context, field UniqueField, value string) (bool, error)
	// Update writes p only if the stored version still equals expected, and
	// advances p.Version and p.UpdatedAt.
	Update(ctx context.Context, p *Patient, expected int64) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, where *filter.Expr, req pagination.Request) ([]*Patient, int, error)
	// Each streams every match in sort order.
	Each(ctx context.Context, where *filter.Expr, sort pagination.Sort, fn func(*Patient) error) error
}
