package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/domain/records"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

const ScopeView = "view"

// DefaultDuration is how long shared records stay visible: a grant expires
// seven days after the consultation date, or after the share for grants made
// outside a consultation.
const DefaultDuration = 7 * 24 * time.Hour

// Grant lets a doctor view a fixed set of a patient's records until
// ExpiresAt. Patient and doctor are accounts, not profiles. Grants are never
// merged: each share is revoked and audited on its own.
type Grant struct {
	ID             uuid.UUID          `json:"id"`
	PatientID      identity.AccountID `json:"patient_id"`
	DoctorID       identity.AccountID `json:"doctor_id"`
	ConsultationID *uuid.UUID         `json:"consultation_id,omitempty"`
	RecordIDs      []uuid.UUID        `json:"record_ids"`
	Scope          string             `json:"scope"`
	Status         Status             `json:"status"`
	ExpiresAt      time.Time          `json:"expires_at"`
	RevokedAt      *time.Time         `json:"revoked_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// LiveAt reports whether the grant is active and not yet expired at now.
func (g *Grant) LiveAt(now time.Time) bool {
	return g.Status == StatusActive && !g.ExpiresAt.Before(now)
}

// SharedRecord is a record as seen through the grants of a consultation.
type SharedRecord struct {
	*records.HealthRecord
	IsAutoMatched   bool      `json:"is_auto_matched"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// GrantRequest describes a new grant.
type GrantRequest struct {
	PatientID      identity.AccountID
	DoctorID       identity.AccountID
	ConsultationID *uuid.UUID
	RecordIDs      []uuid.UUID
	ExpiresAt      time.Time
}
