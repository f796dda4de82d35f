package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/db"
)

// -- Profile Repository --

type profileRepoPG struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const profileCols = `id, account_id, role, full_name, email, specialty, created_at, updated_at`

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	p.ID = NewProfileID(uuid.New())
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO profiles (`+profileCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID.UUID, p.AccountID.UUID, string(p.Role), p.FullName, p.Email, p.Specialty, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) GetByID(ctx context.Context, id ProfileID) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id.UUID))
}

func (r *profileRepoPG) GetByAccount(ctx context.Context, accountID AccountID, role Role) (*Profile, error) {
	if role == "" {
		return scanProfile(r.conn(ctx).QueryRow(ctx,
			`SELECT `+profileCols+` FROM profiles WHERE account_id = $1 ORDER BY created_at LIMIT 1`, accountID.UUID))
	}
	return scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE account_id = $1 AND role = $2`, accountID.UUID, string(role)))
}

func (r *profileRepoPG) ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles WHERE role = $1`, string(role)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE role = $1 ORDER BY full_name LIMIT $2 OFFSET $3`,
		string(role), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	profiles, err := collectProfiles(rows)
	if err != nil {
		return nil, 0, err
	}
	return profiles, total, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var role string
	err := row.Scan(&p.ID.UUID, &p.AccountID.UUID, &role, &p.FullName, &p.Email, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Role = Role(role)
	return &p, nil
}

func collectProfiles(rows pgx.Rows) ([]*Profile, error) {
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Assignment Repository --

type assignmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepo(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

func (r *assignmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func (r *assignmentRepoPG) Upsert(ctx context.Context, a *Assignment) error {
	now := time.Now().UTC()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_access (id, patient_id, doctor_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, $4)
		ON CONFLICT (patient_id, doctor_id) DO UPDATE SET status = 'active', updated_at = EXCLUDED.updated_at
		RETURNING id, status, created_at, updated_at`,
		uuid.New(), a.PatientID.UUID, a.DoctorID.UUID, now,
	).Scan(&a.ID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func (r *assignmentRepoPG) SetStatus(ctx context.Context, patientID, doctorID ProfileID, status AssignmentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_access SET status = $3, updated_at = NOW()
		WHERE patient_id = $1 AND doctor_id = $2`,
		patientID.UUID, doctorID.UUID, string(status))
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *assignmentRepoPG) ActiveDoctorsForPatient(ctx context.Context, patientID ProfileID) ([]ProfileID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT doctor_id FROM patient_access
		WHERE patient_id = $1 AND status = 'active'
		ORDER BY created_at`, patientID.UUID)
	if err != nil {
		return nil, err
	}
	return collectProfileIDs(rows)
}

func (r *assignmentRepoPG) ActivePatientsForDoctor(ctx context.Context, doctorID ProfileID, limit, offset int) ([]ProfileID, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_access WHERE doctor_id = $1 AND status = 'active'`, doctorID.UUID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id FROM patient_access
		WHERE doctor_id = $1 AND status = 'active'
		ORDER BY created_at LIMIT $2 OFFSET $3`, doctorID.UUID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	ids, err := collectProfileIDs(rows)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

func collectProfileIDs(rows pgx.Rows) ([]ProfileID, error) {
	defer rows.Close()
	var out []ProfileID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, NewProfileID(id))
	}
	return out, rows.Err()
}
