package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type Type string

const (
	TypeConsentRequest          Type = "consent_request"
	TypeConsentApproved         Type = "consent_approved"
	TypeConsentDenied           Type = "consent_denied"
	TypePrescriptionCreated     Type = "prescription_created"
	TypePrescriptionUpdated     Type = "prescription_updated"
	TypeConsultationNoteCreated Type = "consultation_note_created"
	TypeConsultationNoteUpdated Type = "consultation_note_updated"
	TypeConsultationBooked      Type = "consultation_booked"
	TypeConsultationUpdated     Type = "consultation_updated"
	TypeRecordAccessGranted     Type = "record_access_granted"
	TypeRecordAccessDenied      Type = "record_access_denied"
	TypeHealthAlert             Type = "health_alert"
)

var validTypes = map[Type]bool{
	TypeConsentRequest:          true,
	TypeConsentApproved:         true,
	TypeConsentDenied:           true,
	TypePrescriptionCreated:     true,
	TypePrescriptionUpdated:     true,
	TypeConsultationNoteCreated: true,
	TypeConsultationNoteUpdated: true,
	TypeConsultationBooked:      true,
	TypeConsultationUpdated:     true,
	TypeRecordAccessGranted:     true,
	TypeRecordAccessDenied:      true,
	TypeHealthAlert:             true,
}

func (t Type) Valid() bool { return validTypes[t] }

// Notification is addressed to an account; ProfileID narrows it to one of
// the account's profiles when set.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	UserID    identity.AccountID     `json:"user_id"`
	ProfileID *identity.ProfileID    `json:"profile_id,omitempty"`
	Type      Type                   `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Read      bool                   `json:"read"`
	ActionURL *string                `json:"action_url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
}
