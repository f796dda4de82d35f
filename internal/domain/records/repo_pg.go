package records

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

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const recordCols = `id, user_id, title, record_type, service_date, file_name, file_url, file_key, tags, created_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *HealthRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_records (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID.UUID, rec.Title, string(rec.RecordType), rec.ServiceDate,
		rec.FileName, rec.FileURL, rec.FileKey, rec.Tags, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert health record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM health_records WHERE id = $1`, id))
}

func (r *recordRepoPG) ListByOwner(ctx context.Context, owner identity.AccountID, limit, offset int) ([]*HealthRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM health_records WHERE user_id = $1`, owner.UUID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM health_records WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		owner.UUID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *recordRepoPG) ListAllByOwner(ctx context.Context, owner identity.AccountID) ([]*HealthRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM health_records WHERE user_id = $1 ORDER BY created_at DESC`, owner.UUID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *recordRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*HealthRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM health_records WHERE id = ANY($1::uuid[]) ORDER BY created_at DESC`, strs)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func scanRecord(row pgx.Row) (*HealthRecord, error) {
	var rec HealthRecord
	var typ string
	err := row.Scan(&rec.ID, &rec.UserID.UUID, &rec.Title, &typ, &rec.ServiceDate,
		&rec.FileName, &rec.FileURL, &rec.FileKey, &rec.Tags, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.RecordType = RecordType(typ)
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*HealthRecord, error) {
	defer rows.Close()
	var out []*HealthRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
