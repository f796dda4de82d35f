package consent

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

type grantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &grantRepoPG{pool: pool}
}

func (r *grantRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const grantCols = `id, patient_id, doctor_id, consultation_id, record_ids, scope, status, expires_at, revoked_at, created_at`

func (r *grantRepoPG) Create(ctx context.Context, g *Grant) error {
	g.ID = uuid.New()
	g.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_grants (`+grantCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		g.ID, g.PatientID.UUID, g.DoctorID.UUID, g.ConsultationID, uuidStrings(g.RecordIDs),
		g.Scope, string(g.Status), g.ExpiresAt, g.RevokedAt, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent grant: %w", err)
	}
	return nil
}

func (r *grantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	return scanGrant(r.conn(ctx).QueryRow(ctx, `SELECT `+grantCols+` FROM consent_grants WHERE id = $1`, id))
}

func (r *grantRepoPG) ListActiveForPair(ctx context.Context, patientID, doctorID identity.AccountID) ([]*Grant, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+grantCols+` FROM consent_grants
		WHERE patient_id = $1 AND doctor_id = $2 AND status = 'active'
		ORDER BY created_at`, patientID.UUID, doctorID.UUID)
	if err != nil {
		return nil, err
	}
	return collectGrants(rows)
}

func (r *grantRepoPG) ListLiveForDoctor(ctx context.Context, doctorID identity.AccountID, now time.Time) ([]*Grant, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+grantCols+` FROM consent_grants
		WHERE doctor_id = $1 AND status = 'active' AND expires_at >= $2`, doctorID.UUID, now)
	if err != nil {
		return nil, err
	}
	return collectGrants(rows)
}

func (r *grantRepoPG) listBy(ctx context.Context, column string, id identity.AccountID, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consent_grants WHERE `+column+` = $1`, id.UUID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+grantCols+` FROM consent_grants WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		id.UUID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, 0, err
	}
	return grants, total, nil
}

func (r *grantRepoPG) ListForPatient(ctx context.Context, patientID identity.AccountID, limit, offset int) ([]*Grant, int, error) {
	return r.listBy(ctx, "patient_id", patientID, limit, offset)
}

func (r *grantRepoPG) ListForDoctor(ctx context.Context, doctorID identity.AccountID, limit, offset int) ([]*Grant, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *grantRepoPG) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_grants SET status = 'revoked', revoked_at = $2
		WHERE id = $1 AND status = 'active'`, id, at)
	if err != nil {
		return fmt.Errorf("revoke consent grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

func (r *grantRepoPG) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_grants SET status = 'expired'
		WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire consent grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	var recordIDs []string
	var status string
	err := row.Scan(&g.ID, &g.PatientID.UUID, &g.DoctorID.UUID, &g.ConsultationID, &recordIDs,
		&g.Scope, &status, &g.ExpiresAt, &g.RevokedAt, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Status = Status(status)
	g.RecordIDs = make([]uuid.UUID, 0, len(recordIDs))
	for _, raw := range recordIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("grant %s: bad record id %q: %w", g.ID, raw, err)
		}
		g.RecordIDs = append(g.RecordIDs, id)
	}
	return &g, nil
}

func collectGrants(rows pgx.Rows) ([]*Grant, error) {
	defer rows.Close()
	var out []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
