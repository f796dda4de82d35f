package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListForPatient(ctx context.Context, patientID identity.ProfileID, limit, offset int) ([]*Consultation, int, error)
	ListForDoctor(ctx context.Context, doctorID identity.ProfileID, limit, offset int) ([]*Consultation, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
}

// PartyLookup reads the patient and doctor of a consultation straight from
// storage. The consent service uses it to scope grants to a consultation.
type PartyLookup struct {
	repo Repository
}

func NewPartyLookup(repo Repository) *PartyLookup {
	return &PartyLookup{repo: repo}
}

func (l *PartyLookup) ConsultationParties(ctx context.Context, id uuid.UUID) (patient, doctor identity.ProfileID, err error) {
	c, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return identity.ProfileID{}, identity.ProfileID{}, err
	}
	return c.PatientID, c.DoctorID, nil
}
