package identity

import "context"

type ProfileRepository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id ProfileID) (*Profile, error)
	// GetByAccount returns the account's profile with the given role, or its
	// oldest profile when role is empty.
	GetByAccount(ctx context.Context, accountID AccountID, role Role) (*Profile, error)
	ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error)
}

type AssignmentRepository interface {
	// Upsert creates the assignment or reactivates an existing one.
	Upsert(ctx context.Context, a *Assignment) error
	SetStatus(ctx context.Context, patientID, doctorID ProfileID, status AssignmentStatus) error
	// Assignment reads return profile ids only; profiles may live in the
	// remote backend rather than the local table.
	ActiveDoctorsForPatient(ctx context.Context, patientID ProfileID) ([]ProfileID, error)
	ActivePatientsForDoctor(ctx context.Context, doctorID ProfileID, limit, offset int) ([]ProfileID, int, error)
}
