package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/domain/notification"
	"github.com/healthportal/portal/internal/domain/records"
	"github.com/healthportal/portal/internal/platform/apperr"
)

// ErrNotActive is returned when revoking a grant that is not active.
var ErrNotActive = apperr.Invalid("status", "only active grants can be revoked")

// ConsultationSource yields the patient and doctor profiles of a
// consultation.
type ConsultationSource interface {
	ConsultationParties(ctx context.Context, consultationID uuid.UUID) (patient, doctor identity.ProfileID, err error)
}

// AccountResolver maps profiles to accounts. *identity.Service implements it.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, id identity.ProfileID) (identity.AccountID, error)
}

// RecordSource fetches records by id. *records.Service implements it.
type RecordSource interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*records.HealthRecord, error)
}

type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

type Service struct {
	repo          Repository
	consultations ConsultationSource
	accounts      AccountResolver
	records       RecordSource
	notifier      Notifier
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(repo Repository, consultations ConsultationSource, accounts AccountResolver, recs RecordSource, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		consultations: consultations,
		accounts:      accounts,
		records:       recs,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

// -- Writes --

// CreateGrant validates and stores a grant. Every record must exist and
// belong to the patient. It sends no notification, so it is safe to call
// inside a transaction; see AnnounceGrant.
func (s *Service) CreateGrant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if req.PatientID.IsZero() {
		return nil, apperr.Required("patient_id")
	}
	if req.DoctorID.IsZero() {
		return nil, apperr.Required("doctor_id")
	}
	if len(req.RecordIDs) == 0 {
		return nil, apperr.Required("record_ids")
	}
	if req.ExpiresAt.IsZero() {
		return nil, apperr.Required("expires_at")
	}
	if err := s.checkOwnership(ctx, req.PatientID, req.RecordIDs); err != nil {
		return nil, err
	}

	g := &Grant{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		ConsultationID: req.ConsultationID,
		RecordIDs:      append([]uuid.UUID(nil), req.RecordIDs...),
		Scope:          ScopeView,
		Status:         StatusActive,
		ExpiresAt:      req.ExpiresAt.UTC(),
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) checkOwnership(ctx context.Context, patient identity.AccountID, ids []uuid.UUID) error {
	recs, err := s.records.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load records to share: %w", err)
	}
	owned := make(map[uuid.UUID]bool, len(recs))
	for _, r := range recs {
		if r.UserID == patient {
			owned[r.ID] = true
		}
	}
	for _, id := range ids {
		if !owned[id] {
			return apperr.Invalid("record_ids", fmt.Sprintf("record %s does not belong to the patient", id))
		}
	}
	return nil
}

// AnnounceGrant tells the doctor that records were shared. Failures are
// logged.
func (s *Service) AnnounceGrant(ctx context.Context, g *Grant) {
	s.notifyDoctor(ctx, g, notification.TypeRecordAccessGranted)
}

// ShareRecords creates a grant outside any consultation and announces it.
// A zero ExpiresAt defaults to DefaultDuration from now.
func (s *Service) ShareRecords(ctx context.Context, req GrantRequest) (*Grant, error) {
	now := s.now()
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = now.Add(DefaultDuration)
	}
	if !req.ExpiresAt.After(now) {
		return nil, apperr.Invalid("expires_at", "must be in the future")
	}
	g, err := s.CreateGrant(ctx, req)
	if err != nil {
		return nil, err
	}
	s.AnnounceGrant(ctx, g)
	return g, nil
}

// RevokeGrant ends an active grant. Only the granting patient may revoke.
func (s *Service) RevokeGrant(ctx context.Context, patient identity.AccountID, id uuid.UUID) (*Grant, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.PatientID != patient {
		return nil, apperr.ErrForbidden
	}
	if g.Status != StatusActive {
		return nil, ErrNotActive
	}

	at := s.now().UTC()
	if err := s.repo.Revoke(ctx, id, at); err != nil {
		return nil, err
	}
	g.Status = StatusRevoked
	g.RevokedAt = &at

	s.notifyDoctor(ctx, g, notification.TypeRecordAccessDenied)
	return g, nil
}

// ExpireGrants marks every active grant past its expiry as expired.
func (s *Service) ExpireGrants(ctx context.Context, now time.Time) (int, error) {
	return s.repo.ExpireBefore(ctx, now)
}

func (s *Service) notifyDoctor(ctx context.Context, g *Grant, typ notification.Type) {
	meta := map[string]interface{}{
		"grant_id":     g.ID.String(),
		"record_count": len(g.RecordIDs),
		"expires_at":   g.ExpiresAt.Format("2006-01-02"),
	}
	if g.ConsultationID != nil {
		meta["consultation_id"] = g.ConsultationID.String()
	}
	if err := s.notifier.Notify(ctx, &notification.Notification{
		UserID:   g.DoctorID,
		Type:     typ,
		Metadata: meta,
	}); err != nil {
		s.logger.Warn().Err(err).Str("grant_id", g.ID.String()).Str("type", string(typ)).Msg("grant notification failed")
	}
}

// -- Reads --

// ResolveSharedRecords returns the records currently shared between the
// consultation's patient and doctor: the union of the record sets of their
// live grants, each tagged with the latest expiry among those grants. Any
// failure, or the absence of live grants, yields an empty slice.
func (s *Service) ResolveSharedRecords(ctx context.Context, consultationID uuid.UUID) []*SharedRecord {
	out := []*SharedRecord{}
	log := s.logger.With().Str("consultation_id", consultationID.String()).Logger()

	patientProfile, doctorProfile, err := s.consultations.ConsultationParties(ctx, consultationID)
	if err != nil {
		log.Warn().Err(err).Msg("shared records: consultation lookup failed")
		return out
	}
	patient, err := s.accounts.ResolveAccount(ctx, patientProfile)
	if err != nil {
		log.Warn().Err(err).Msg("shared records: patient account lookup failed")
		return out
	}
	doctor, err := s.accounts.ResolveAccount(ctx, doctorProfile)
	if err != nil {
		log.Warn().Err(err).Msg("shared records: doctor account lookup failed")
		return out
	}

	grants, err := s.repo.ListActiveForPair(ctx, patient, doctor)
	if err != nil {
		log.Warn().Err(err).Msg("shared records: listing grants failed")
		return out
	}

	now := s.now()
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	var maxExpiry time.Time
	for _, g := range grants {
		if !g.LiveAt(now) {
			continue
		}
		if g.ExpiresAt.After(maxExpiry) {
			maxExpiry = g.ExpiresAt
		}
		for _, id := range g.RecordIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return out
	}

	recs, err := s.records.ListByIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("shared records: loading records failed")
		return out
	}
	byID := make(map[uuid.UUID]*records.HealthRecord, len(recs))
	for _, r := range recs {
		if r.UserID == patient {
			byID[r.ID] = r
		}
	}
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, &SharedRecord{HealthRecord: r, AccessExpiresAt: maxExpiry})
		}
	}
	return out
}

// SharedRecordsFor is ResolveSharedRecords for a viewer who must be the
// consultation's patient or doctor.
func (s *Service) SharedRecordsFor(ctx context.Context, viewer identity.AccountID, consultationID uuid.UUID) ([]*SharedRecord, error) {
	patientProfile, doctorProfile, err := s.consultations.ConsultationParties(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, p := range []identity.ProfileID{patientProfile, doctorProfile} {
		if acct, err := s.accounts.ResolveAccount(ctx, p); err == nil && acct == viewer {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperr.ErrForbidden
	}
	return s.ResolveSharedRecords(ctx, consultationID), nil
}

// CheckAccess reports, for each record id, whether the doctor holds a live
// grant covering it. A storage failure denies everything.
func (s *Service) CheckAccess(ctx context.Context, doctor identity.AccountID, recordIDs []uuid.UUID) map[uuid.UUID]bool {
	access := make(map[uuid.UUID]bool, len(recordIDs))
	for _, id := range recordIDs {
		access[id] = false
	}
	if len(recordIDs) == 0 {
		return access
	}

	now := s.now()
	grants, err := s.repo.ListLiveForDoctor(ctx, doctor, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctor.String()).Msg("access check: listing grants failed")
		return access
	}
	for _, g := range grants {
		if !g.LiveAt(now) {
			continue
		}
		for _, id := range g.RecordIDs {
			if _, asked := access[id]; asked {
				access[id] = true
			}
		}
	}
	return access
}

// CanView lets the records service admit doctors holding a live grant.
func (s *Service) CanView(ctx context.Context, viewer identity.AccountID, recordID uuid.UUID) bool {
	return s.CheckAccess(ctx, viewer, []uuid.UUID{recordID})[recordID]
}

func (s *Service) ListGrantsForPatient(ctx context.Context, patient identity.AccountID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListForPatient(ctx, patient, limit, offset)
}

func (s *Service) ListGrantsForDoctor(ctx context.Context, doctor identity.AccountID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListForDoctor(ctx, doctor, limit, offset)
}
