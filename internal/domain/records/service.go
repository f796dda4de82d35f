package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/domain/notification"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/blobstore"
)

// ProfileDirectory is the part of the identity service the upload fan-out
// needs. *identity.Service implements it.
type ProfileDirectory interface {
	ProfileForAccount(ctx context.Context, accountID identity.AccountID, role identity.Role) (*identity.Profile, error)
	ListActiveAssignmentsForPatient(ctx context.Context, patientID identity.ProfileID) ([]*identity.Profile, error)
}

// Notifier sends one notification. *notification.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

// AccessPolicy grants viewers other than the owner access to a record.
type AccessPolicy interface {
	CanView(ctx context.Context, viewer identity.AccountID, recordID uuid.UUID) bool
}

type Service struct {
	repo      Repository
	blobs     blobstore.Store
	directory ProfileDirectory
	notifier  Notifier
	access    AccessPolicy
	logger    zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, directory ProfileDirectory, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, directory: directory, notifier: notifier, logger: logger}
}

// SetAccessPolicy installs the policy consulted when a non-owner reads a
// record. Without one only owners may read.
func (s *Service) SetAccessPolicy(p AccessPolicy) {
	s.access = p
}

type UploadRequest struct {
	Owner       identity.AccountID
	Title       string
	RecordType  RecordType
	ServiceDate *time.Time
	Tags        []string

	// File is optional. FileName and ContentType are required with it.
	File        io.Reader
	FileName    string
	ContentType string
}

// Upload stores the optional file, persists the record and then notifies
// every doctor assigned to the owner. The record write is the unit of
// success; notification failures are logged only.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*HealthRecord, error) {
	if req.Owner.IsZero() {
		return nil, apperr.Required("user_id")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Required("title")
	}
	if req.RecordType == "" {
		return nil, apperr.Required("record_type")
	}
	if !req.RecordType.Valid() {
		return nil, apperr.Invalid("record_type", fmt.Sprintf("unknown record type %q", req.RecordType))
	}

	rec := &HealthRecord{
		ID:          uuid.New(),
		UserID:      req.Owner,
		Title:       title,
		RecordType:  req.RecordType,
		ServiceDate: req.ServiceDate,
		Tags:        cleanTags(req.Tags),
	}

	if req.File != nil {
		if err := blobstore.ValidateContentType(req.ContentType); err != nil {
			return nil, apperr.Invalid("file", err.Error())
		}
		key, err := blobstore.RecordKey(req.Owner.String(), req.FileName)
		if err != nil {
			return nil, apperr.Invalid("file", err.Error())
		}
		if _, err := s.blobs.Put(ctx, key, req.ContentType, req.File); err != nil {
			if errors.Is(err, blobstore.ErrFileTooLarge) || errors.Is(err, blobstore.ErrInvalidContentType) {
				return nil, apperr.Invalid("file", err.Error())
			}
			return nil, apperr.Remote("store record file", err)
		}
		name := req.FileName
		url := FilePath(rec.ID)
		rec.FileName = &name
		rec.FileURL = &url
		rec.FileKey = &key
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		if rec.FileKey != nil {
			if derr := s.blobs.Delete(ctx, *rec.FileKey); derr != nil {
				s.logger.Warn().Err(derr).Str("key", *rec.FileKey).Msg("orphaned record file")
			}
		}
		return nil, err
	}

	s.fanOut(ctx, rec)
	return rec, nil
}

func cleanTags(tags []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// fanOut sends one health_alert per doctor actively assigned to the record's
// owner. A failure for one doctor does not stop the rest.
func (s *Service) fanOut(ctx context.Context, rec *HealthRecord) {
	log := s.logger.With().Str("record_id", rec.ID.String()).Logger()

	patient, err := s.directory.ProfileForAccount(ctx, rec.UserID, identity.RolePatient)
	if err != nil {
		log.Warn().Err(err).Msg("record fan-out: patient profile lookup failed")
		return
	}
	doctors, err := s.directory.ListActiveAssignmentsForPatient(ctx, patient.ID)
	if err != nil {
		log.Warn().Err(err).Msg("record fan-out: listing assigned doctors failed")
		return
	}

	for _, doctor := range doctors {
		doctorProfile := doctor.ID
		actionURL := "/records/" + rec.ID.String()
		n := &notification.Notification{
			UserID:    doctor.AccountID,
			ProfileID: &doctorProfile,
			Type:      notification.TypeHealthAlert,
			ActionURL: &actionURL,
			Metadata: map[string]interface{}{
				"record_id":          rec.ID.String(),
				"record_title":       rec.Title,
				"record_type":        string(rec.RecordType),
				"patient_profile_id": patient.ID.String(),
			},
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("doctor_profile_id", doctor.ID.String()).Msg("record fan-out: notify doctor failed")
		}
	}
}

// Get returns a record to its owner, or to a viewer the access policy
// allows.
func (s *Service) Get(ctx context.Context, viewer identity.AccountID, id uuid.UUID) (*HealthRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID == viewer {
		return rec, nil
	}
	if s.access != nil && s.access.CanView(ctx, viewer, id) {
		return rec, nil
	}
	return nil, apperr.ErrForbidden
}

// OpenFile returns the file attached to a record, subject to the same
// access rules as Get. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, viewer identity.AccountID, id uuid.UUID) (io.ReadCloser, *blobstore.Object, *HealthRecord, error) {
	rec, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.FileKey == nil {
		return nil, nil, nil, fmt.Errorf("record has no file: %w", apperr.ErrNotFound)
	}
	body, obj, err := s.blobs.Get(ctx, *rec.FileKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, nil, fmt.Errorf("record file: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, nil, nil, apperr.Remote("read record file", err)
	}
	return body, obj, rec, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner identity.AccountID, limit, offset int) ([]*HealthRecord, int, error) {
	return s.repo.ListByOwner(ctx, owner, limit, offset)
}

// ListByIDs fetches records by id. Missing ids are skipped.
func (s *Service) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*HealthRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.ListByIDs(ctx, ids)
}

// MatchForOwner partitions the owner's records against an appointment
// title. Storage failures yield an empty result.
func (s *Service) MatchForOwner(ctx context.Context, owner identity.AccountID, title string) MatchResult {
	recs, err := s.repo.ListAllByOwner(ctx, owner)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", owner.String()).Msg("match: listing records failed")
		recs = nil
	}
	return Match(recs, title)
}
