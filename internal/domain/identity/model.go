package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/auth"
)

// AccountID identifies the login account behind one or more profiles.
// Consent grants, health records and notifications are keyed by account.
type AccountID struct{ uuid.UUID }

// ProfileID identifies a role-scoped profile (patient or doctor) of an
// account. Consultations and doctor assignments are keyed by profile.
type ProfileID struct{ uuid.UUID }

func NewAccountID(id uuid.UUID) AccountID { return AccountID{id} }
func NewProfileID(id uuid.UUID) ProfileID { return ProfileID{id} }

func ParseAccountID(s string) (AccountID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("invalid account id %q: %w", s, err)
	}
	return AccountID{id}, nil
}

func ParseProfileID(s string) (ProfileID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ProfileID{}, fmt.Errorf("invalid profile id %q: %w", s, err)
	}
	return ProfileID{id}, nil
}

func (id AccountID) IsZero() bool { return id.UUID == uuid.Nil }
func (id ProfileID) IsZero() bool { return id.UUID == uuid.Nil }

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

type Profile struct {
	ID        ProfileID `json:"id"`
	AccountID AccountID `json:"account_id"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentInactive AssignmentStatus = "inactive"
)

// Assignment is a doctor's standing assignment to a patient (the
// patient_access relation). It is unrelated to consent grants.
type Assignment struct {
	ID        uuid.UUID        `json:"id"`
	PatientID ProfileID        `json:"patient_id"`
	DoctorID  ProfileID        `json:"doctor_id"`
	Status    AssignmentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Caller is the authenticated principal of a request, typed.
type Caller struct {
	AccountID AccountID
	ProfileID ProfileID
	Roles     []string
}

// CallerFromContext reads the identity the auth middleware stored in ctx.
// A missing or malformed account id is ErrForbidden; the profile id is
// optional and left zero when absent.
func CallerFromContext(ctx context.Context) (Caller, error) {
	acct, err := ParseAccountID(auth.UserIDFromContext(ctx))
	if err != nil {
		return Caller{}, fmt.Errorf("%w: no authenticated account", apperr.ErrForbidden)
	}
	c := Caller{AccountID: acct, Roles: auth.RolesFromContext(ctx)}
	if raw := auth.ProfileIDFromContext(ctx); raw != "" {
		if pid, err := ParseProfileID(raw); err == nil {
			c.ProfileID = pid
		}
	}
	return c, nil
}

func (c Caller) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == auth.RoleAdmin {
			return true
		}
	}
	return false
}

// Acts reports whether the caller is the owner of profile p or an admin.
func (c Caller) Acts(p *Profile) bool {
	return c.IsAdmin() || (p != nil && p.AccountID == c.AccountID)
}
