package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/db"
)

type consultationRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const consultationCols = `id, patient_id, doctor_id, consultation_date, consultation_time, reason, notes, status, created_at, updated_at`

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	day, err := c.Day()
	if err != nil {
		return apperr.Invalid("consultation_date", "must be YYYY-MM-DD")
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO consultations (`+consultationCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.PatientID.UUID, c.DoctorID.UUID, day, c.Time, c.Reason, c.Notes,
		string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
}

func (r *consultationRepoPG) ListForPatient(ctx context.Context, patientID identity.ProfileID, limit, offset int) ([]*Consultation, int, error) {
	return r.listBy(ctx, "patient_id", patientID.UUID, limit, offset)
}

func (r *consultationRepoPG) ListForDoctor(ctx context.Context, doctorID identity.ProfileID, limit, offset int) ([]*Consultation, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID.UUID, limit, offset)
}

// listBy pages consultations where column equals id. column is always one
// of the fixed names above.
func (r *consultationRepoPG) listBy(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultations WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consultationCols+` FROM consultations WHERE `+column+` = $1
		ORDER BY consultation_date DESC, consultation_time DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *consultationRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE consultations SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update consultation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var day time.Time
	var status string
	err := row.Scan(&c.ID, &c.PatientID.UUID, &c.DoctorID.UUID, &day, &c.Time, &c.Reason, &c.Notes,
		&status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Date = day.Format(DateLayout)
	c.Status = Status(status)
	return &c, nil
}
