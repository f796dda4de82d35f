package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type RecordType string

const (
	TypeLabReport        RecordType = "lab_report"
	TypePrescription     RecordType = "prescription"
	TypeImaging          RecordType = "imaging"
	TypeDischargeSummary RecordType = "discharge_summary"
	TypeVaccination      RecordType = "vaccination"
	TypeConsultationNote RecordType = "consultation_note"
	TypeOther            RecordType = "other"
)

var validRecordTypes = map[RecordType]bool{
	TypeLabReport:        true,
	TypePrescription:     true,
	TypeImaging:          true,
	TypeDischargeSummary: true,
	TypeVaccination:      true,
	TypeConsultationNote: true,
	TypeOther:            true,
}

func (t RecordType) Valid() bool { return validRecordTypes[t] }

// HealthRecord is a patient-owned document. UserID is the owning patient's
// account. Records are immutable once stored.
type HealthRecord struct {
	ID          uuid.UUID          `json:"id"`
	UserID      identity.AccountID `json:"user_id"`
	Title       string             `json:"title"`
	RecordType  RecordType         `json:"record_type"`
	ServiceDate *time.Time         `json:"service_date,omitempty"`
	FileName    *string            `json:"file_name,omitempty"`
	FileURL     *string            `json:"file_url,omitempty"`
	FileKey     *string            `json:"-"`
	Tags        []string           `json:"tags"`
	CreatedAt   time.Time          `json:"created_at"`
}

// FilePath is the API path serving a record's attached file.
func FilePath(id uuid.UUID) string {
	return "/api/v1/records/" + id.String() + "/file"
}
