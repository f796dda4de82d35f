package records

import (
	"context"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type Repository interface {
	Create(ctx context.Context, r *HealthRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error)
	ListByOwner(ctx context.Context, owner identity.AccountID, limit, offset int) ([]*HealthRecord, int, error)
	ListAllByOwner(ctx context.Context, owner identity.AccountID) ([]*HealthRecord, error)
	// ListByIDs returns the records that exist among ids, in no set order.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*HealthRecord, error)
}
