package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/domain/identity"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// allowedTransitions lists the statuses reachable from each status.
// Completed, cancelled and no_show are terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusConfirmed: true,
		StatusCancelled: true,
		StatusCompleted: true,
	},
	StatusConfirmed: {
		StatusCompleted: true,
		StatusCancelled: true,
		StatusNoShow:    true,
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether a consultation may move from s to next.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// Consultation is a booked appointment between a patient and a doctor,
// both referenced by profile.
type Consultation struct {
	ID        uuid.UUID          `json:"id"`
	PatientID identity.ProfileID `json:"patient_id"`
	DoctorID  identity.ProfileID `json:"doctor_id"`
	Date      string             `json:"consultation_date"`
	Time      string             `json:"consultation_time"`
	Reason    string             `json:"reason"`
	Notes     *string            `json:"notes,omitempty"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Day returns the consultation date at midnight UTC.
func (c *Consultation) Day() (time.Time, error) {
	return time.Parse(DateLayout, c.Date)
}

// CreateRequest books a consultation and optionally shares records with
// the doctor.
type CreateRequest struct {
	PatientID       identity.ProfileID `json:"patient_id"`
	DoctorID        identity.ProfileID `json:"doctor_id"`
	Date            string             `json:"consultation_date"`
	Time            string             `json:"consultation_time"`
	Reason          string             `json:"reason"`
	Notes           *string            `json:"notes"`
	SharedRecordIDs []uuid.UUID        `json:"shared_record_ids"`
}
