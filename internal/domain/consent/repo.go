package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)
	// ListActiveForPair returns the pair's grants with status active,
	// whatever their expiry.
	ListActiveForPair(ctx context.Context, patientID, doctorID identity.AccountID) ([]*Grant, error)
	// ListLiveForDoctor returns the doctor's active grants expiring at or
	// after now.
	ListLiveForDoctor(ctx context.Context, doctorID identity.AccountID, now time.Time) ([]*Grant, error)
	ListForPatient(ctx context.Context, patientID identity.AccountID, limit, offset int) ([]*Grant, int, error)
	ListForDoctor(ctx context.Context, doctorID identity.AccountID, limit, offset int) ([]*Grant, int, error)
	// Revoke moves an active grant to revoked. It returns ErrNotActive when
	// the grant is not active.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	// ExpireBefore marks active grants whose expiry is before now as expired.
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
}
