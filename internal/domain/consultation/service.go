package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/domain/consent"
	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/domain/notification"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/db"
)

// Directory looks up profiles and maps them to accounts. *identity.Service
// implements it.
type Directory interface {
	GetProfile(ctx context.Context, id identity.ProfileID) (*identity.Profile, error)
	ProfileForAccount(ctx context.Context, accountID identity.AccountID, role identity.Role) (*identity.Profile, error)
	ResolveAccount(ctx context.Context, id identity.ProfileID) (identity.AccountID, error)
}

// Granter writes consent grants. *consent.Service implements it.
type Granter interface {
	CreateGrant(ctx context.Context, req consent.GrantRequest) (*consent.Grant, error)
	AnnounceGrant(ctx context.Context, g *consent.Grant)
}

type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

type Service struct {
	repo     Repository
	tx       db.TxRunner
	accounts Directory
	grants   Granter
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, accounts Directory, grants Granter, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		accounts: accounts,
		grants:   grants,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func validateCreate(req CreateRequest) error {
	if req.PatientID.IsZero() {
		return apperr.Required("patient_id")
	}
	if req.DoctorID.IsZero() {
		return apperr.Required("doctor_id")
	}
	if strings.TrimSpace(req.Date) == "" {
		return apperr.Required("consultation_date")
	}
	if strings.TrimSpace(req.Time) == "" {
		return apperr.Required("consultation_time")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperr.Required("reason")
	}
	if _, err := time.Parse(DateLayout, req.Date); err != nil {
		return apperr.Invalid("consultation_date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(TimeLayout, req.Time); err != nil {
		return apperr.Invalid("consultation_time", "must be HH:MM")
	}
	return nil
}

// requireRole checks that id names an existing profile holding role.
func (s *Service) requireRole(ctx context.Context, id identity.ProfileID, role identity.Role, field string) error {
	p, err := s.accounts.GetProfile(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(field, "profile not found")
	}
	if err != nil {
		return &apperr.LookupError{Kind: "profile", ID: id.String(), Err: err}
	}
	if p.Role != role {
		return apperr.Invalid(field, fmt.Sprintf("profile is a %s, not a %s", p.Role, role))
	}
	return nil
}

// CreateConsultation books a consultation. When records are shared, one
// grant covering them is written in the same transaction, expiring
// consent.DefaultDuration after the consultation date. Notifications go out
// only after the transaction commits.
func (s *Service) CreateConsultation(ctx context.Context, req CreateRequest) (*Consultation, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, req.PatientID, identity.RolePatient, "patient_id"); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, req.DoctorID, identity.RoleDoctor, "doctor_id"); err != nil {
		return nil, err
	}

	c := &Consultation{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Reason:    strings.TrimSpace(req.Reason),
		Notes:     req.Notes,
		Status:    StatusScheduled,
	}
	day, err := c.Day()
	if err != nil {
		return nil, apperr.Invalid("consultation_date", "must be YYYY-MM-DD")
	}
	var doctorAccount identity.AccountID
	var grant *consent.Grant

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		if len(req.SharedRecordIDs) == 0 {
			return nil
		}

		patientAccount, err := s.accounts.ResolveAccount(ctx, req.PatientID)
		if err != nil {
			return err
		}
		doctorAccount, err = s.accounts.ResolveAccount(ctx, req.DoctorID)
		if err != nil {
			return err
		}
		id := c.ID
		grant, err = s.grants.CreateGrant(ctx, consent.GrantRequest{
			PatientID:      patientAccount,
			DoctorID:       doctorAccount,
			ConsultationID: &id,
			RecordIDs:      req.SharedRecordIDs,
			ExpiresAt:      day.Add(consent.DefaultDuration),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.announceBooking(ctx, c, doctorAccount)
	if grant != nil {
		s.grants.AnnounceGrant(ctx, grant)
	}
	return c, nil
}

// Book is CreateConsultation on behalf of booker, who must own the
// patient profile.
func (s *Service) Book(ctx context.Context, booker identity.AccountID, req CreateRequest) (*Consultation, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	owner, err := s.accounts.ResolveAccount(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if owner != booker {
		return nil, apperr.ErrForbidden
	}
	return s.CreateConsultation(ctx, req)
}

func (s *Service) announceBooking(ctx context.Context, c *Consultation, doctorAccount identity.AccountID) {
	log := s.logger.With().Str("consultation_id", c.ID.String()).Logger()
	if doctorAccount.IsZero() {
		acct, err := s.accounts.ResolveAccount(ctx, c.DoctorID)
		if err != nil {
			log.Warn().Err(err).Msg("booking notification skipped: doctor account lookup failed")
			return
		}
		doctorAccount = acct
	}
	doctorProfile := c.DoctorID
	err := s.notifier.Notify(ctx, &notification.Notification{
		UserID:    doctorAccount,
		ProfileID: &doctorProfile,
		Type:      notification.TypeConsultationBooked,
		Metadata: map[string]interface{}{
			"consultation_id":    c.ID.String(),
			"consultation_date":  c.Date,
			"consultation_time":  c.Time,
			"reason":             c.Reason,
			"patient_profile_id": c.PatientID.String(),
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("booking notification failed")
	}
}

// parties resolves both accounts of c.
func (s *Service) parties(ctx context.Context, c *Consultation) (patient, doctor identity.AccountID, err error) {
	if patient, err = s.accounts.ResolveAccount(ctx, c.PatientID); err != nil {
		return
	}
	doctor, err = s.accounts.ResolveAccount(ctx, c.DoctorID)
	return
}

// Get returns a consultation to its patient or doctor.
func (s *Service) Get(ctx context.Context, viewer identity.AccountID, id uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, doctor, err := s.parties(ctx, c)
	if err != nil {
		return nil, err
	}
	if viewer != patient && viewer != doctor {
		return nil, apperr.ErrForbidden
	}
	return c, nil
}

// SideProfile returns the caller's profile for role. An account holds one
// profile per role, so a dual-role caller lists each side with a different id.
func (s *Service) SideProfile(ctx context.Context, caller identity.AccountID, role identity.Role) (identity.ProfileID, error) {
	p, err := s.accounts.ProfileForAccount(ctx, caller, role)
	if err != nil {
		return identity.ProfileID{}, err
	}
	return p.ID, nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID identity.ProfileID, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.ListForPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID identity.ProfileID, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.ListForDoctor(ctx, doctorID, limit, offset)
}

// UpdateStatus moves a consultation along the status table and tells the
// other party.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.AccountID, id uuid.UUID, status Status) (*Consultation, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, doctor, err := s.parties(ctx, c)
	if err != nil {
		return nil, err
	}
	var recipient identity.AccountID
	var recipientProfile identity.ProfileID
	switch actor {
	case patient:
		recipient, recipientProfile = doctor, c.DoctorID
	case doctor:
		recipient, recipientProfile = patient, c.PatientID
	default:
		return nil, apperr.ErrForbidden
	}
	if !c.Status.CanTransition(status) {
		return nil, apperr.Invalid("status", fmt.Sprintf("cannot move from %s to %s", c.Status, status))
	}

	at := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, status, at); err != nil {
		return nil, err
	}
	c.Status = status
	c.UpdatedAt = at

	err = s.notifier.Notify(ctx, &notification.Notification{
		UserID:    recipient,
		ProfileID: &recipientProfile,
		Type:      notification.TypeConsultationUpdated,
		Metadata: map[string]interface{}{
			"consultation_id":   c.ID.String(),
			"consultation_date": c.Date,
			"status":            string(status),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("consultation_id", c.ID.String()).Msg("status notification failed")
	}
	return c, nil
}
