package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/cache"
)

type Service struct {
	profiles    ProfileRepository
	assignments AssignmentRepository
	cache       *cache.Cache
}

func NewService(profiles ProfileRepository, assignments AssignmentRepository, c *cache.Cache) *Service {
	return &Service{profiles: profiles, assignments: assignments, cache: c}
}

// ProfilePage is one page of a cached profile listing.
type ProfilePage struct {
	Items []*Profile `json:"items"`
	Total int        `json:"total"`
}

func doctorsKey(limit, offset int) string {
	return cache.Key("doctors", strconv.Itoa(limit), strconv.Itoa(offset))
}

func patientsKey(doctorID ProfileID, limit, offset int) string {
	return cache.Key("patients", doctorID.String(), strconv.Itoa(limit), strconv.Itoa(offset))
}

// -- Profiles --

func (s *Service) CreateProfile(ctx context.Context, p *Profile) error {
	if p.AccountID.IsZero() {
		return apperr.Required("account_id")
	}
	if !p.Role.Valid() {
		return apperr.Invalid("role", `must be "patient" or "doctor"`)
	}
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return apperr.Required("full_name")
	}
	if !strings.Contains(p.Email, "@") {
		return apperr.Invalid("email", "must be an email address")
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		return err
	}
	if p.Role == RoleDoctor {
		s.cache.Invalidate(ctx, "doctors:*")
	}
	return nil
}

func (s *Service) GetProfile(ctx context.Context, id ProfileID) (*Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func (s *Service) ProfileForAccount(ctx context.Context, accountID AccountID, role Role) (*Profile, error) {
	if role != "" && !role.Valid() {
		return nil, apperr.Invalid("role", `must be "patient" or "doctor"`)
	}
	return s.profiles.GetByAccount(ctx, accountID, role)
}

// ResolveAccount maps a profile to the account that owns it. Any failure is
// reported as a *apperr.LookupError.
func (s *Service) ResolveAccount(ctx context.Context, id ProfileID) (AccountID, error) {
	if id.IsZero() {
		return AccountID{}, &apperr.LookupError{Kind: "profile", ID: id.String(), Err: errors.New("empty profile id")}
	}
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return AccountID{}, &apperr.LookupError{Kind: "profile", ID: id.String(), Err: err}
	}
	if p.AccountID.IsZero() {
		return AccountID{}, &apperr.LookupError{Kind: "profile", ID: id.String(), Err: errors.New("profile has no account")}
	}
	return p.AccountID, nil
}

// -- Listings (read-through cached) --

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Profile, int, error) {
	page, err := cache.GetOrLoad(ctx, s.cache, doctorsKey(limit, offset), cache.TTLMedium,
		func(ctx context.Context) (ProfilePage, error) {
			items, total, err := s.profiles.ListByRole(ctx, RoleDoctor, limit, offset)
			return ProfilePage{Items: items, Total: total}, err
		})
	if err != nil {
		return nil, 0, err
	}
	return page.Items, page.Total, nil
}

func (s *Service) ListPatientsForDoctor(ctx context.Context, doctorID ProfileID, limit, offset int) ([]*Profile, int, error) {
	page, err := cache.GetOrLoad(ctx, s.cache, patientsKey(doctorID, limit, offset), cache.TTLShort,
		func(ctx context.Context) (ProfilePage, error) {
			ids, total, err := s.assignments.ActivePatientsForDoctor(ctx, doctorID, limit, offset)
			if err != nil {
				return ProfilePage{}, err
			}
			items, err := s.profilesByID(ctx, ids)
			return ProfilePage{Items: items, Total: total}, err
		})
	if err != nil {
		return nil, 0, err
	}
	return page.Items, page.Total, nil
}

// -- Assignments --

func (s *Service) AssignDoctor(ctx context.Context, patientID, doctorID ProfileID) (*Assignment, error) {
	if err := s.requireRole(ctx, patientID, RolePatient, "patient_id"); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, doctorID, RoleDoctor, "doctor_id"); err != nil {
		return nil, err
	}
	a := &Assignment{PatientID: patientID, DoctorID: doctorID}
	if err := s.assignments.Upsert(ctx, a); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.Key("patients", doctorID.String(), "*"))
	return a, nil
}

func (s *Service) RevokeAssignment(ctx context.Context, patientID, doctorID ProfileID) error {
	if err := s.assignments.SetStatus(ctx, patientID, doctorID, AssignmentInactive); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, cache.Key("patients", doctorID.String(), "*"))
	return nil
}

// ListActiveAssignmentsForPatient returns the doctors currently assigned to
// the patient.
func (s *Service) ListActiveAssignmentsForPatient(ctx context.Context, patientID ProfileID) ([]*Profile, error) {
	ids, err := s.assignments.ActiveDoctorsForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.profilesByID(ctx, ids)
}

// profilesByID loads each assigned profile from the profile store. Profiles
// that no longer exist there are left out.
func (s *Service) profilesByID(ctx context.Context, ids []ProfileID) ([]*Profile, error) {
	out := make([]*Profile, 0, len(ids))
	for _, id := range ids {
		p, err := s.profiles.GetByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) requireRole(ctx context.Context, id ProfileID, role Role, field string) error {
	if id.IsZero() {
		return apperr.Required(field)
	}
	p, err := s.profiles.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(field, "profile not found")
	}
	if err != nil {
		return err
	}
	if p.Role != role {
		return apperr.Invalid(field, fmt.Sprintf("profile is a %s, not a %s", p.Role, role))
	}
	return nil
}
