package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const encCols = `id, patient_id, start_time, end_time, class, version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, start_time, end_time, class)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING version, created_at, updated_at`,
		e.ID, e.PatientID, e.Start, e.End, string(e.Class),
	).Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return apperr.NotFound("Patient", e.PatientID.String())
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter
		WHERE patient_id = $1
		ORDER BY start_time DESC, id
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count encounters: %w", err)
	}
	return n, nil
}

func (r *repoPG) ListAllByPatient(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE patient_id = $1 ORDER BY start_time DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) BelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM encounter WHERE id = $1 AND patient_id = $2)`, encounterID, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check encounter owner: %w", err)
	}
	return ok, nil
}

func (r *repoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete encounters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows) ([]*Encounter, error) {
	defer rows.Close()
	var out []*Encounter
	for rows.Next() {
		var (
			e     Encounter
			class string
		)
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Start, &e.End, &class,
			&e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		e.Class = Class(class)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read encounters: %w", err)
	}
	return out, nil
}
